// Package coordinator runs download requests end to end: one browser
// session per run, one export per report/chunk/region unit, every unit
// accounted for in the audit log.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tdhoang/reportfetch/internal/auditlog"
	"github.com/tdhoang/reportfetch/internal/browser"
	"github.com/tdhoang/reportfetch/internal/catalog"
	"github.com/tdhoang/reportfetch/internal/chunk"
	"github.com/tdhoang/reportfetch/internal/config"
	"github.com/tdhoang/reportfetch/internal/postproc"
	"github.com/tdhoang/reportfetch/internal/retry"
	"github.com/tdhoang/reportfetch/internal/runstate"
	"github.com/tdhoang/reportfetch/internal/watcher"
)

// ErrRunActive is returned by Start while another run holds the slot.
var ErrRunActive = errors.New("a download run is already active")

// errSessionDead aborts the remaining units of a run once the browser is
// known to be gone.
var errSessionDead = errors.New("browser session is dead")

// BrowserSession is the slice of the browser layer the coordinator drives.
// Tests substitute a scripted fake.
type BrowserSession interface {
	Login(ctx context.Context, identity, secret, otpSeed string) (bool, error)
	Navigate(ctx context.Context, url string) error
	Activate(ctx context.Context, locator, desc string) error
	FillDates(ctx context.Context, from, to time.Time) error
	SelectRegion(ctx context.Context, id int) error
	Alive(ctx context.Context) bool
	Screenshot(prefix string)
	Close()
}

// SessionFactory opens a browser session downloading into runDir.
type SessionFactory func(ctx context.Context, runDir string) (BrowserSession, error)

// Coordinator owns the single-run-at-a-time download pipeline.
type Coordinator struct {
	Cfg   config.Config
	Log   *slog.Logger
	State *runstate.State
	Audit *auditlog.Log
	// NewSession defaults to launching a real browser when nil.
	NewSession SessionFactory
}

// unit is one export: a report, a date window, and optionally a region.
type unit struct {
	spec   catalog.ReportSpec
	window chunk.Range
	region *catalog.Region
}

func (u unit) label() string {
	s := fmt.Sprintf("%s %s..%s",
		u.spec.Key,
		u.window.From.Format(requestDateLayout),
		u.window.To.Format(requestDateLayout),
	)
	if u.region != nil {
		s += " region " + u.region.Name
	}
	return s
}

// Start validates the request, claims the run slot, and launches the run in
// the background. ctx bounds the whole run, not just this call, so pass a
// long-lived context rather than a per-request one. ErrRunActive means
// another run is in progress; validation errors leave the run state
// untouched.
func (c *Coordinator) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !c.State.Begin() {
		return ErrRunActive
	}
	go c.run(ctx, req)
	return nil
}

func (c *Coordinator) run(ctx context.Context, req Request) {
	sessionID := uuid.NewString()
	started := time.Now()
	runDir := filepath.Join(c.Cfg.DownloadBaseDir, started.Format("20060102_150405"))
	log := c.Log.With("session_id", sessionID, "run_dir", runDir)

	var succeeded, failed int
	defer func() {
		c.State.Post("Run finished: %d succeeded, %d failed, took %s",
			succeeded, failed, time.Since(started).Round(time.Second))
		c.State.Finish()
		log.Info("run finished",
			"succeeded", succeeded,
			"failed", failed,
			"duration", time.Since(started).Round(time.Second),
		)
	}()

	c.State.Post("Run %s starting", sessionID)
	log.Info("run starting", "items", len(req.Items), "regions", len(req.Regions))

	factory := c.NewSession
	if factory == nil {
		factory = func(ctx context.Context, dir string) (BrowserSession, error) {
			return browser.Open(ctx, c.Cfg, log, dir)
		}
	}
	session, err := factory(ctx, runDir)
	if err != nil {
		failed++
		c.record(sessionID, "", auditlog.StatusFailedSession, "", "", "launching browser: "+err.Error())
		c.State.Post("Could not start browser: %v", err)
		log.Error("browser launch failed", "err", err)
		return
	}
	defer session.Close()

	exec := c.executor(log, session)
	proc := postproc.New(c.runDirOf(session), log)

	ok, err := c.login(ctx, exec, session, req)
	if err != nil || !ok {
		failed++
		detail := "credentials rejected by portal"
		if err != nil {
			detail = err.Error()
		}
		c.record(sessionID, "", auditlog.StatusFailedLogin, "", "", detail)
		c.State.Post("Login failed: %s", detail)
		log.Error("login failed", "err", detail)
		return
	}
	c.State.Post("Logged in")

	for _, item := range req.Items {
		units, itemErr := c.expand(item, req.Regions)
		if itemErr != nil {
			failed++
			c.record(sessionID, item.ReportKey, itemErr.status, item.FromDate, item.ToDate, itemErr.detail)
			c.State.Post("Skipping %s: %s", item.ReportKey, itemErr.detail)
			log.Warn("report item skipped", "report", item.ReportKey, "reason", itemErr.detail)
			continue
		}
		for _, u := range units {
			if err := ctx.Err(); err != nil {
				failed++
				c.record(sessionID, u.label(), auditlog.StatusFailedSession, "", "", err.Error())
				return
			}
			if err := c.downloadUnit(ctx, log, exec, session, proc, sessionID, u, &succeeded, &failed); err != nil {
				if errors.Is(err, errSessionDead) {
					c.State.Post("Browser session lost, aborting run")
					log.Error("session lost mid-run")
					return
				}
			}
			select {
			case <-time.After(c.Cfg.UnitPause):
			case <-ctx.Done():
			}
		}
	}
}

// itemError carries the audit status for a whole skipped report item.
type itemError struct {
	status string
	detail string
}

func (e *itemError) Error() string { return e.detail }

// expand turns one report item into its concrete units.
func (c *Coordinator) expand(item ReportItem, regions []int) ([]unit, *itemError) {
	spec, err := catalog.Lookup(item.ReportKey)
	if err != nil {
		return nil, &itemError{auditlog.StatusFailedUnknownRpt, err.Error()}
	}
	from, to, err := item.Window()
	if err != nil {
		return nil, &itemError{auditlog.StatusFailedDateSplit, err.Error()}
	}
	policy := chunk.Policy{ByMonth: true}
	if item.ChunkPolicy != "" {
		policy, err = chunk.ParsePolicy(item.ChunkPolicy)
		if err != nil {
			return nil, &itemError{auditlog.StatusFailedDateSplit, err.Error()}
		}
	}
	windows := chunk.Split(from, to, policy)
	if len(windows) == 0 {
		return nil, &itemError{
			auditlog.StatusFailedDateSplit,
			fmt.Sprintf("range %s..%s yields no chunks", item.FromDate, item.ToDate),
		}
	}

	var units []unit
	for _, w := range windows {
		if spec.RequiresRegions {
			for _, id := range regions {
				r, ok := catalog.RegionByID(id)
				if !ok {
					return nil, &itemError{
						auditlog.StatusFailedRegion,
						fmt.Sprintf("unknown region id %d", id),
					}
				}
				region := r
				units = append(units, unit{spec: spec, window: w, region: &region})
			}
		} else {
			units = append(units, unit{spec: spec, window: w})
		}
	}
	return units, nil
}

// downloadUnit performs one export and accounts for its outcome. It returns
// errSessionDead when the browser cannot continue; any other return value
// means the run may proceed to the next unit.
func (c *Coordinator) downloadUnit(
	ctx context.Context,
	log *slog.Logger,
	exec *retry.Executor,
	session BrowserSession,
	proc *postproc.Processor,
	sessionID string,
	u unit,
	succeeded, failed *int,
) error {
	label := u.label()
	c.State.Post("Downloading %s", label)
	log.Info("unit starting", "unit", label)

	fromStr := u.window.From.Format(requestDateLayout)
	toStr := u.window.To.Format(requestDateLayout)
	fail := func(status, detail string) {
		*failed++
		c.record(sessionID, label, status, fromStr, toStr, detail)
		c.State.Post("%s failed: %s", label, detail)
	}

	w := &watcher.Watcher{
		Dir:            c.runDirOf(session),
		PollInterval:   c.Cfg.PollInterval,
		StallThreshold: c.Cfg.StallThreshold,
		Logger:         log,
	}

	prepare := func(ctx context.Context) error {
		if err := session.Navigate(ctx, u.spec.URL); err != nil {
			return err
		}
		if u.spec.SetupLocator != "" {
			if err := session.Activate(ctx, u.spec.SetupLocator, "report type"); err != nil {
				return err
			}
		}
		if err := session.FillDates(ctx, u.window.From, u.window.To); err != nil {
			return err
		}
		if u.region != nil {
			if err := session.SelectRegion(ctx, u.region.ID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := exec.Do(ctx, "prepare "+label, prepare); err != nil {
		return c.classifyUnitFailure(ctx, session, err, fail, auditlog.StatusFailedClick)
	}

	// Snapshot the directory only once the page is ready, immediately
	// before the export click. Anything the prepare phase left behind,
	// failure screenshots included, is part of the baseline rather than a
	// download candidate.
	baseline, err := w.Baseline()
	if err != nil {
		fail(auditlog.StatusFailedWait, "reading download directory: "+err.Error())
		return nil
	}

	if err := exec.Do(ctx, "export "+label, func(ctx context.Context) error {
		return session.Activate(ctx, u.spec.ExportLocator, "export")
	}); err != nil {
		return c.classifyUnitFailure(ctx, session, err, fail, auditlog.StatusFailedClick)
	}

	downloaded, err := w.Wait(ctx, baseline, c.Cfg.DownloadTimeout)
	if err != nil {
		return c.classifyUnitFailure(ctx, session, err, fail, auditlog.StatusFailedWait)
	}

	// Regional exports carry the region name in the suffix so two regions
	// over the same window stay distinguishable on disk and in the audit
	// trail.
	suffix := u.spec.Suffix
	if u.region != nil {
		suffix += "_" + u.region.Name
	}
	final, renameErr := proc.Rename(downloaded, u.window.From, u.window.To, suffix)

	status := auditlog.StatusSuccess
	detail := ""
	if renameErr != nil {
		status = auditlog.StatusRenameFailed
		detail = renameErr.Error()
		log.Warn("rename failed, keeping original name", "unit", label, "err", renameErr)
	}

	if postproc.IsArchive(final) {
		members, err := proc.ExpandArchive(final, u.window.From, u.window.To, suffix)
		if err != nil {
			fail(auditlog.StatusFailedExtract, err.Error())
			return nil
		}
		for _, m := range members {
			*succeeded++
			c.record(sessionID, filepath.Base(m), status, fromStr, toStr, detail)
		}
		c.State.Post("%s done (%d files)", label, len(members))
		return nil
	}

	*succeeded++
	c.record(sessionID, filepath.Base(final), status, fromStr, toStr, detail)
	c.State.Post("%s done", label)
	log.Info("unit complete", "unit", label, "file", filepath.Base(final), "status", status)
	return nil
}

// classifyUnitFailure decides whether a unit failure is local or means the
// whole session is gone. An unexpected error probes the browser to tell the
// two apart.
func (c *Coordinator) classifyUnitFailure(
	ctx context.Context,
	session BrowserSession,
	err error,
	fail func(status, detail string),
	localStatus string,
) error {
	if browser.IsSessionFatal(err) || !session.Alive(ctx) {
		fail(auditlog.StatusFailedSession, err.Error())
		return errSessionDead
	}
	fail(localStatus, err.Error())
	return nil
}

func (c *Coordinator) login(ctx context.Context, exec *retry.Executor, session BrowserSession, req Request) (bool, error) {
	var accepted bool
	err := exec.Do(ctx, "login", func(ctx context.Context) error {
		ok, err := session.Login(ctx, req.Identity, req.Secret, req.OTPSeed)
		if err != nil {
			return err
		}
		accepted = ok
		// A clean rejection is an answer, not a transient fault.
		return nil
	})
	return accepted, err
}

func (c *Coordinator) executor(log *slog.Logger, session BrowserSession) *retry.Executor {
	return &retry.Executor{
		Attempts:    c.Cfg.RetryAttempts,
		Delay:       c.Cfg.RetryDelay,
		Backoff:     c.Cfg.RetryBackoff,
		Retryable:   browser.IsRetryable,
		OnExhausted: session.Screenshot,
		Logger:      log,
	}
}

// runDirOf resolves the session's download directory. Real sessions know
// their run dir; fakes fall back to the configured base.
func (c *Coordinator) runDirOf(session BrowserSession) string {
	type dirProvider interface{ RunDir() string }
	if p, ok := session.(dirProvider); ok {
		return p.RunDir()
	}
	return c.Cfg.DownloadBaseDir
}

func (c *Coordinator) record(sessionID, fileName, status, start, end, detail string) {
	o := auditlog.Outcome{
		SessionID: sessionID,
		Timestamp: time.Now(),
		FileName:  fileName,
		StartDate: start,
		Status:    status,
		EndDate:   end,
		Err:       detail,
	}
	if err := c.Audit.Append(o); err != nil {
		c.Log.Error("audit append failed", "err", err, "status", status, "file", fileName)
	}
}
