// Package browser drives the report portal through a headless Chrome
// instance. One Session maps to one logged-in browser for the duration of a
// run.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/pquerna/otp/totp"

	"github.com/tdhoang/reportfetch/internal/config"
)

// Portal login form and post-login landmarks.
const (
	loginURL = "https://bi.nhathuoclongchau.com.vn/Account/Login.aspx"

	usernameLocator = `#mat-input-3`
	passwordLocator = `#mat-input-4`
	otpLocator      = `#mat-input-5`
	signInLocator   = `#kt_login_signin_submit`

	// The portal redirects here once credentials and the one-time code
	// are accepted.
	homeURLFragment = "Home.aspx"

	loginSettleWait = 3 * time.Second
)

// Session owns a Chrome instance configured to download into a run
// directory.
type Session struct {
	cfg config.Config
	log *slog.Logger

	// runDir receives downloads and failure screenshots for this run.
	runDir string

	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Open launches Chrome, routes downloads into runDir, and installs a
// listener that auto-accepts any page dialog so a stray confirm() cannot
// hang a run.
func Open(parent context.Context, cfg config.Config, log *slog.Logger, runDir string) (*Session, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		log:         log,
		runDir:      runDir,
		ctx:         ctx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					log.Warn("failed to dismiss page dialog", "err", err)
				}
			}()
		}
	})

	// Starting the browser and pointing downloads at the run directory in
	// one shot also validates that Chrome actually launched.
	startCtx, cancel := context.WithTimeout(ctx, cfg.PageLoadTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(runDir).
			WithEventsEnabled(true),
	); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	log.Info("browser session started", "download_dir", runDir, "headless", cfg.Headless)
	return s, nil
}

// RunDir returns the directory this session downloads into.
func (s *Session) RunDir() string { return s.runDir }

// Login signs in with the given credentials plus a freshly generated
// one-time code. It returns (false, nil) when the portal rejects the
// credentials, reserving the error return for mechanical failures.
func (s *Session) Login(ctx context.Context, identity, secret, otpSeed string) (bool, error) {
	code, err := totp.GenerateCode(otpSeed, time.Now())
	if err != nil {
		return false, fmt.Errorf("generating one-time code: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
	defer cancel()
	tctx = s.bind(tctx)

	if err := chromedp.Run(tctx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(usernameLocator, chromedp.ByQuery),
		chromedp.SendKeys(usernameLocator, identity, chromedp.ByQuery),
		chromedp.SendKeys(passwordLocator, secret, chromedp.ByQuery),
		chromedp.SendKeys(otpLocator, code, chromedp.ByQuery),
	); err != nil {
		return false, fmt.Errorf("filling login form: %w", err)
	}
	if err := s.Activate(ctx, signInLocator, "sign in"); err != nil {
		return false, fmt.Errorf("submitting login form: %w", err)
	}

	// The portal either redirects to the home page or re-renders the
	// login form with an error banner. Poll the location rather than
	// waiting on a selector so both outcomes resolve quickly.
	deadline := time.Now().Add(s.cfg.WaitTimeout)
	for time.Now().Before(deadline) {
		var loc string
		if err := chromedp.Run(s.bind(ctx), chromedp.Location(&loc)); err != nil {
			return false, fmt.Errorf("reading location after login: %w", err)
		}
		if strings.Contains(loc, homeURLFragment) {
			s.log.Info("login accepted")
			return true, nil
		}
		if !strings.Contains(loc, "Login") {
			// Redirected somewhere unexpected but off the login page;
			// treat as signed in.
			s.log.Info("login accepted", "landing", loc)
			return true, nil
		}
		select {
		case <-time.After(loginSettleWait):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	s.log.Warn("login rejected, still on login page")
	return false, nil
}

// Navigate loads url and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	tctx, cancel := context.WithTimeout(s.bind(ctx), s.cfg.PageLoadTimeout)
	defer cancel()
	if err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Alive probes the session with a cheap title read under a short timeout.
// Only a session-fatal fault counts as dead; any other fault is assumed
// transient.
func (s *Session) Alive(ctx context.Context) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	tctx, cancel := context.WithTimeout(s.bind(ctx), 10*time.Second)
	defer cancel()
	var title string
	err := chromedp.Run(tctx, chromedp.Title(&title))
	if err == nil {
		return true
	}
	return !IsSessionFatal(err)
}

// Screenshot writes a full-viewport PNG into the run directory. Failures
// are logged, not returned; a missing screenshot never escalates the
// failure it was meant to document.
func (s *Session) Screenshot(prefix string) {
	tctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(tctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		s.log.Warn("screenshot capture failed", "prefix", prefix, "err", err)
		return
	}
	name := fmt.Sprintf("%s_%s.png", sanitize(prefix), time.Now().Format("20060102_150405"))
	path := filepath.Join(s.runDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		s.log.Warn("screenshot write failed", "path", path, "err", err)
		return
	}
	s.log.Info("screenshot saved", "path", path)
}

// Close tears the browser down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelCtx()
	s.cancelAlloc()
	s.log.Info("browser session closed")
}

// bind ties a caller context to the chromedp context so cancelling either
// stops the action. chromedp.Run needs its own context to address the
// browser, so the caller's deadline is mirrored instead of passed through.
func (s *Session) bind(ctx context.Context) context.Context {
	if dl, ok := ctx.Deadline(); ok {
		bound, cancel := context.WithDeadline(s.ctx, dl)
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-bound.Done():
			}
		}()
		return bound
	}
	bound, cancel := context.WithCancel(s.ctx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-bound.Done():
		}
	}()
	return bound
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
