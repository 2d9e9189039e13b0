// Package runstate is the in-memory record of the currently running (or
// most recent) download run: an active flag plus a bounded progress message
// buffer that the HTTP stream and the terminal monitor both read from.
package runstate

import (
	"fmt"
	"sync"
	"time"
)

// State holds run activity and progress messages. The zero value is not
// usable; construct with New.
type State struct {
	mu       sync.Mutex
	active   bool
	limit    int
	messages []string
	// total counts every message ever posted this run. Cursors are
	// absolute positions in that stream, so a reader's position stays
	// valid after old messages are trimmed from the buffer.
	total int
}

func New(limit int) *State {
	if limit <= 0 {
		limit = 500
	}
	return &State{limit: limit}
}

// Begin atomically claims the run slot. It returns false without touching
// anything when a run is already active; on success the message buffer is
// reset for the new run.
func (s *State) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	s.messages = nil
	s.total = 0
	return true
}

// Finish releases the run slot. Messages stay readable until the next
// Begin.
func (s *State) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Active reports whether a run currently holds the slot.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Post appends a timestamped progress message, trimming the oldest entries
// past the buffer limit.
func (s *State) Post(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.total++
	if over := len(s.messages) - s.limit; over > 0 {
		s.messages = s.messages[over:]
	}
}

// Snapshot returns the messages at or after the absolute cursor, the cursor
// to resume from, and whether the run is still active. A cursor older than
// the buffer start silently skips to the oldest retained message.
func (s *State) Snapshot(cursor int) (msgs []string, next int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.total - len(s.messages)
	if cursor < start {
		cursor = start
	}
	if cursor > s.total {
		cursor = s.total
	}
	tail := s.messages[cursor-start:]
	msgs = make([]string, len(tail))
	copy(msgs, tail)
	return msgs, s.total, s.active
}
