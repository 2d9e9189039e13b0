package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tdhoang/reportfetch/internal/auditlog"
	"github.com/tdhoang/reportfetch/internal/browser"
	"github.com/tdhoang/reportfetch/internal/config"
	"github.com/tdhoang/reportfetch/internal/runstate"
)

// fakeSession scripts the browser layer. On each export activation it drops
// a file into the download directory unless a scripted failure fires first.
type fakeSession struct {
	mu  sync.Mutex
	dir string

	loginOK  bool
	loginErr error

	// failExportAt makes the nth export activation (1-based) return
	// failErr instead of producing a file.
	failExportAt int
	failErr      error
	alive        bool

	// failFillOnce makes the first FillDates call fail with a retryable
	// error and drop a diagnostic screenshot into the download directory,
	// the way the real interaction layer does.
	failFillOnce bool
	fillFailed   bool

	exports     int
	screenshots []string
	closed      bool
}

func (f *fakeSession) Login(context.Context, string, string, string) (bool, error) {
	return f.loginOK, f.loginErr
}

func (f *fakeSession) Navigate(context.Context, string) error          { return nil }
func (f *fakeSession) Activate(_ context.Context, locator, desc string) error {
	if desc != "export" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports++
	if f.failExportAt > 0 && f.exports >= f.failExportAt {
		return f.failErr
	}
	name := filepath.Join(f.dir, time.Now().Format("150405.000000")+"_report.csv")
	return os.WriteFile(name, []byte("data"), 0o644)
}

func (f *fakeSession) FillDates(context.Context, time.Time, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFillOnce && !f.fillFailed {
		f.fillFailed = true
		name := filepath.Join(f.dir, "from_date_"+time.Now().Format("20060102_150405")+".png")
		if err := os.WriteFile(name, []byte("png"), 0o644); err != nil {
			return err
		}
		return fmt.Errorf("from date field: %w", browser.ErrNotFound)
	}
	return nil
}
func (f *fakeSession) SelectRegion(context.Context, int) error               { return nil }
func (f *fakeSession) Alive(context.Context) bool                            { return f.alive }
func (f *fakeSession) Screenshot(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, prefix)
}
func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
func (f *fakeSession) RunDir() string { return f.dir }

func newCoordinator(t *testing.T, fake *fakeSession) (*Coordinator, *auditlog.Log) {
	t.Helper()
	base := t.TempDir()
	fake.dir = base
	audit := auditlog.New(filepath.Join(t.TempDir(), "audit.csv"))
	cfg := config.Config{
		DownloadBaseDir: base,
		RetryAttempts:   2,
		RetryDelay:      time.Millisecond,
		RetryBackoff:    1.5,
		UnitPause:       time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		DownloadTimeout: 200 * time.Millisecond,
	}.WithDefaults()

	c := &Coordinator{
		Cfg:   cfg,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		State: runstate.New(100),
		Audit: audit,
		NewSession: func(context.Context, string) (BrowserSession, error) {
			return fake, nil
		},
	}
	return c, audit
}

func waitForFinish(t *testing.T, s *runstate.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Active() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
}

func defaultRequest() Request {
	return Request{
		Identity: "user",
		Secret:   "pass",
		OTPSeed:  "JBSWY3DPEHPK3PXP",
		Items: []ReportItem{{
			ReportKey:   "FAF002",
			FromDate:    "01/01/2025",
			ToDate:      "10/01/2025",
			ChunkPolicy: "5",
		}},
	}
}

func countStatus(t *testing.T, audit *auditlog.Log, status string) int {
	t.Helper()
	rows, err := audit.Read()
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, r := range rows {
		if r.Status == status {
			n++
		}
	}
	return n
}

func TestRunTwoChunkSuccess(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, audit := newCoordinator(t, fake)

	if err := c.Start(context.Background(), defaultRequest()); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusSuccess); got != 2 {
		rows, _ := audit.Read()
		t.Fatalf("expected 2 Success rows, got %d: %+v", got, rows)
	}
	if !fake.closed {
		t.Fatal("session should be closed after the run")
	}
	rows, _ := audit.Read()
	for _, r := range rows {
		if r.SessionID == "" {
			t.Fatal("every row should carry the run's session id")
		}
	}
}

func TestRunSessionFatalAborts(t *testing.T) {
	fake := &fakeSession{
		loginOK:      true,
		alive:        false,
		failExportAt: 2,
		failErr:      errors.New("invalid session id"),
	}
	c, audit := newCoordinator(t, fake)

	req := defaultRequest()
	req.Items[0].ChunkPolicy = "4" // three chunks over 10 days
	if err := c.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusSuccess); got != 1 {
		t.Fatalf("expected 1 Success before the crash, got %d", got)
	}
	if got := countStatus(t, audit, auditlog.StatusFailedSession); got != 1 {
		t.Fatalf("expected 1 session failure row, got %d", got)
	}
	rows, _ := audit.Read()
	if len(rows) != 2 {
		t.Fatalf("run should stop after the session dies, got %d rows", len(rows))
	}
	if !fake.closed {
		t.Fatal("session should be closed even after an abort")
	}
}

func TestRunLoginRejected(t *testing.T) {
	fake := &fakeSession{loginOK: false, alive: true}
	c, audit := newCoordinator(t, fake)

	if err := c.Start(context.Background(), defaultRequest()); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusFailedLogin); got != 1 {
		t.Fatalf("expected 1 login failure row, got %d", got)
	}
	rows, _ := audit.Read()
	if len(rows) != 1 {
		t.Fatalf("rejected login should produce exactly one row, got %d", len(rows))
	}
	if fake.exports != 0 {
		t.Fatal("no exports should run after a rejected login")
	}
	if !fake.closed {
		t.Fatal("teardown must still close the session")
	}
}

func TestStartBusyRejected(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, _ := newCoordinator(t, fake)

	if !c.State.Begin() {
		t.Fatal("setup: could not claim run slot")
	}
	err := c.Start(context.Background(), defaultRequest())
	if !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	c.State.Finish()
}

func TestStartValidationLeavesStateUntouched(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, _ := newCoordinator(t, fake)

	req := defaultRequest()
	req.Items[0].ReportKey = "FAF030" // requires regions, none given
	err := c.Start(context.Background(), req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if c.State.Active() {
		t.Fatal("rejected request must not claim the run slot")
	}
	if !c.State.Begin() {
		t.Fatal("run slot should still be free after rejection")
	}
	c.State.Finish()
}

func TestRunUnknownReportContinues(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, audit := newCoordinator(t, fake)

	req := defaultRequest()
	req.Items = append([]ReportItem{{
		ReportKey:   "FAF999",
		FromDate:    "01/01/2025",
		ToDate:      "02/01/2025",
		ChunkPolicy: "5",
	}}, req.Items...)
	if err := c.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusFailedUnknownRpt); got != 1 {
		t.Fatalf("expected 1 unknown-report row, got %d", got)
	}
	if got := countStatus(t, audit, auditlog.StatusSuccess); got != 2 {
		t.Fatalf("later items should still run, got %d Success rows", got)
	}
}

func TestRunRecoveredPrepareFaultStillYieldsRealDownload(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true, failFillOnce: true}
	c, audit := newCoordinator(t, fake)

	req := defaultRequest()
	req.Items[0].ToDate = "05/01/2025" // single chunk
	if err := c.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusSuccess); got != 1 {
		rows, _ := audit.Read()
		t.Fatalf("expected 1 Success row, got %d: %+v", got, rows)
	}
	rows, _ := audit.Read()
	for _, r := range rows {
		if strings.HasSuffix(strings.ToLower(r.FileName), ".png") {
			t.Fatalf("diagnostic screenshot recorded as the download: %q", r.FileName)
		}
	}
	if !strings.Contains(rows[0].FileName, "report") {
		t.Fatalf("success row should name the exported file, got %q", rows[0].FileName)
	}
}

func TestRunRegionalUnitsCarryRegionInName(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, audit := newCoordinator(t, fake)

	req := defaultRequest()
	req.Items = []ReportItem{{
		ReportKey:   "FAF030",
		FromDate:    "01/01/2025",
		ToDate:      "31/01/2025",
		ChunkPolicy: "month",
	}}
	req.Regions = []int{0, 1}
	if err := c.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusSuccess); got != 2 {
		rows, _ := audit.Read()
		t.Fatalf("expected 2 Success rows, got %d: %+v", got, rows)
	}
	rows, _ := audit.Read()
	var names []string
	for _, r := range rows {
		names = append(names, r.FileName)
	}
	for _, region := range []string{"_HCM", "_HNi"} {
		found := false
		for _, n := range names {
			if strings.Contains(n, region) {
				found = true
			}
		}
		if !found {
			t.Fatalf("no file tagged with region %q in %v", region, names)
		}
	}
	if names[0] == names[1] {
		t.Fatalf("regional files must be distinguishable, both named %q", names[0])
	}
}

func TestExpandRejectsUnknownRegion(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, _ := newCoordinator(t, fake)

	item := ReportItem{
		ReportKey:   "FAF030",
		FromDate:    "01/01/2025",
		ToDate:      "31/01/2025",
		ChunkPolicy: "month",
	}
	_, itemErr := c.expand(item, []int{99})
	if itemErr == nil {
		t.Fatal("expected an item error for an unknown region id")
	}
	if itemErr.status != auditlog.StatusFailedRegion {
		t.Fatalf("expected %q, got %q", auditlog.StatusFailedRegion, itemErr.status)
	}
}

func TestRunInvertedRangeRecordsDateSplit(t *testing.T) {
	fake := &fakeSession{loginOK: true, alive: true}
	c, audit := newCoordinator(t, fake)

	req := defaultRequest()
	req.Items[0].FromDate = "10/01/2025"
	req.Items[0].ToDate = "01/01/2025"
	if err := c.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitForFinish(t, c.State)

	if got := countStatus(t, audit, auditlog.StatusFailedDateSplit); got != 1 {
		t.Fatalf("expected 1 date-split failure row, got %d", got)
	}
}
