// Package watcher detects when the browser finishes writing a download by
// polling the run directory. It keys off a baseline listing taken before
// the export is triggered, so concurrent leftovers from earlier units never
// count as the new file.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoResult reports that the wait deadline passed with no completed
// download appearing.
var ErrNoResult = errors.New("no completed download appeared")

// tempSuffixes mark files the browser is still writing.
var tempSuffixes = []string{".tmp", ".crdownload", ".part"}

// Watcher watches one directory for the arrival of a new, fully written
// file.
type Watcher struct {
	Dir          string
	PollInterval time.Duration
	// StallThreshold controls how long with no directory change before a
	// progress warning is logged.
	StallThreshold time.Duration
	Logger         *slog.Logger
}

// Baseline captures the current file names in the directory. Pass the
// result to Wait so only files created after this point are candidates.
func (w *Watcher) Baseline() (map[string]struct{}, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Name()] = struct{}{}
	}
	return seen, nil
}

// Wait blocks until a new non-temporary, non-empty file appears, the
// timeout passes, or ctx is cancelled. On timeout it takes one final look:
// a download that completed moments late is still returned as a success.
func (w *Watcher) Wait(ctx context.Context, baseline map[string]struct{}, timeout time.Duration) (string, error) {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	deadline := time.Now().Add(timeout)
	lastChange := time.Now()
	lastProgress := int64(-1)
	warned := false

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name, progress, err := w.scan(baseline)
		if err != nil {
			return "", err
		}
		if name != "" {
			log.Info("download complete", "file", name)
			return filepath.Join(w.Dir, name), nil
		}
		if progress != lastProgress {
			lastProgress = progress
			lastChange = time.Now()
			warned = false
		} else if w.StallThreshold > 0 && time.Since(lastChange) > w.StallThreshold && !warned {
			log.Warn("download appears stalled",
				"dir", w.Dir,
				"quiet_for", time.Since(lastChange).Round(time.Second),
			)
			warned = true
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Final snapshot after the deadline. Browsers sometimes finish the
	// rename a beat after the last poll.
	if name, _, err := w.scan(baseline); err == nil && name != "" {
		log.Warn("download completed after deadline", "file", name)
		return filepath.Join(w.Dir, name), nil
	}
	return "", ErrNoResult
}

// scan returns the newest completed new file (or "" when none) and the
// summed size of in-flight temp files. The size feeds stall detection: an
// in-progress download that stops growing is a stall.
func (w *Watcher) scan(baseline map[string]struct{}) (string, int64, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return "", 0, err
	}
	var (
		newest        string
		newestTime    time.Time
		inflightBytes int64
	)
	for _, e := range entries {
		name := e.Name()
		if _, known := baseline[name]; known {
			continue
		}
		if e.IsDir() {
			continue
		}
		if isTemp(name) {
			if info, err := e.Info(); err == nil {
				inflightBytes += info.Size()
			}
			continue
		}
		// Failure screenshots land in the same directory and must never be
		// mistaken for the download.
		if isDiagnostic(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = name
			newestTime = info.ModTime()
		}
	}
	return newest, inflightBytes, nil
}

func isDiagnostic(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".png")
}

func isTemp(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range tempSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
