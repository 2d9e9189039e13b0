package config

import "time"

// Timeouts default to minutes rather than seconds. The portal renders its
// report pages slowly and a large export can take most of half an hour, so
// short waits only produce false failures.
const (
	DefaultWaitTimeout     = 15 * time.Minute
	DefaultPageLoadTimeout = 15 * time.Minute
	DefaultDownloadTimeout = 30 * time.Minute
	DefaultPollInterval    = 2 * time.Second
	DefaultStallThreshold  = 1 * time.Minute

	// Pause between download units. The portal destabilises when exports
	// are fired back to back; tunable via --unit-pause.
	DefaultUnitPause = 4 * time.Second

	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 10 * time.Second
	DefaultRetryBackoff  = 1.5

	// Most recent status messages kept for the progress stream.
	DefaultMessageLimit = 500
)

// Config holds application settings.
type Config struct {
	// DownloadBaseDir is the parent of the per-run download directories.
	DownloadBaseDir string
	// AuditLogPath is the append-only CSV of per-unit outcomes.
	AuditLogPath string
	// DbPath is the DuckDB file holding saved configurations and
	// schedules (":memory:" for in-memory).
	DbPath string
	// ListenAddr is the HTTP facade bind address (serve command).
	ListenAddr string

	// ChromePath overrides the browser binary location; empty means
	// whatever chromedp finds on its own.
	ChromePath string
	Headless   bool

	// OTPSeed is the shared secret for the portal's time-based one-time
	// code. It is deliberately never written to the configuration store.
	OTPSeed string

	WaitTimeout     time.Duration
	PageLoadTimeout time.Duration
	DownloadTimeout time.Duration
	PollInterval    time.Duration
	StallThreshold  time.Duration
	UnitPause       time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
	RetryBackoff  float64

	MessageLimit int
}

// WithDefaults fills any zero-valued tunable with its default.
func (c Config) WithDefaults() Config {
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.PageLoadTimeout == 0 {
		c.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StallThreshold == 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.UnitPause == 0 {
		c.UnitPause = DefaultUnitPause
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MessageLimit == 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	return c
}
