// Package chunk splits a requested date range into the smaller windows the
// portal can export without timing out.
package chunk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxChunks bounds runaway ranges; anything past this is truncated.
const maxChunks = 1000

// Range is one inclusive export window.
type Range struct {
	From time.Time
	To   time.Time
}

// Policy controls how a range is partitioned. ByMonth splits on calendar
// month boundaries, otherwise Days fixed-size windows are used.
type Policy struct {
	ByMonth bool
	Days    int
}

// ParsePolicy accepts either the literal "month" (the old UI also sent
// "by-calendar-month") or a positive day count.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month", "by-calendar-month":
		return Policy{ByMonth: true}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Policy{}, fmt.Errorf("chunk policy %q is neither 'month' nor a day count", s)
	}
	if n <= 0 {
		return Policy{}, fmt.Errorf("chunk day count must be positive, got %d", n)
	}
	return Policy{Days: n}, nil
}

// Split partitions [start, end] per the policy. The result is empty when
// start is after end. Consecutive ranges are contiguous: each From is the
// day after the previous To, and the final To equals end.
func Split(start, end time.Time, p Policy) []Range {
	start = truncateDay(start)
	end = truncateDay(end)
	if start.After(end) {
		return nil
	}
	if !p.ByMonth && p.Days <= 0 {
		return nil
	}

	var out []Range
	cur := start
	for !cur.After(end) && len(out) < maxChunks {
		var to time.Time
		if p.ByMonth {
			to = endOfMonth(cur)
		} else {
			to = cur.AddDate(0, 0, p.Days-1)
		}
		if to.After(end) {
			to = end
		}
		out = append(out, Range{From: cur, To: to})
		cur = to.AddDate(0, 0, 1)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
