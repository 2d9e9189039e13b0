package browser

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound reports that a page element never appeared within its wait
// budget. Interaction helpers wrap it so callers can tell a missing control
// apart from a dead browser.
var ErrNotFound = errors.New("element not found")

// sessionFatalSignatures are error fragments that mean the browser session
// itself is gone. Nothing in the current run can recover from these.
var sessionFatalSignatures = []string{
	"invalid session id",
	"session deleted because of page crash",
	"unable to connect to renderer",
	"websocket url timeout",
	"context canceled",
}

// IsSessionFatal reports whether err indicates a dead or crashed browser
// session rather than a misbehaving page.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range sessionFatalSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// retryableSignatures cover the transient page states worth another attempt:
// slow renders, re-rendered nodes, and overlays briefly covering a control.
var retryableSignatures = []string{
	"timeout",
	"deadline exceeded",
	"stale element",
	"node not found",
	"element is not clickable",
	"click intercepted",
	"not interactable",
	"could not compute box model",
}

// IsRetryable reports whether another attempt at the same interaction could
// plausibly succeed. Session-fatal errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil || IsSessionFatal(err) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
