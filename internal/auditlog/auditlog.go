// Package auditlog keeps the append-only CSV record of every attempted
// download unit. The file survives process restarts; the header is written
// once when the file is first created.
package auditlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Unit outcome statuses. The strings are part of the audit file format and
// are matched by downstream reporting, so they never change casually.
const (
	StatusSuccess          = "Success"
	StatusRenameFailed     = "Success (Rename Failed)"
	StatusFailedLogin      = "Failed (Login)"
	StatusFailedClick      = "Failed (Click Download)"
	StatusFailedWait       = "Failed (Download Wait)"
	StatusFailedSession    = "Failed (Invalid Session)"
	StatusFailedDateSplit  = "Failed (Date Split)"
	StatusFailedUnknownRpt = "Failed (Unknown Report)"
	StatusFailedRegion     = "Failed (Invalid Region)"
	StatusFailedExtract    = "Failed (Extract)"
)

const timestampLayout = "2006-01-02 15:04:05"

var header = []string{"SessionID", "Timestamp", "File Name", "Start Date", "Status", "End Date", "Error Message"}

// Outcome is one audit row.
type Outcome struct {
	SessionID string
	Timestamp time.Time
	FileName  string
	StartDate string
	Status    string
	EndDate   string
	Err       string
}

// Log appends outcomes to a CSV file. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Log {
	return &Log{path: path}
}

// Append writes one outcome row, creating the file with its header on
// first use.
func (l *Log) Append(o Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating audit log directory: %w", err)
		}
	}

	writeHeader := false
	if info, err := os.Stat(l.path); os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		writeHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("writing audit header: %w", err)
		}
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := []string{o.SessionID, ts.Format(timestampLayout), o.FileName, o.StartDate, o.Status, o.EndDate, o.Err}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("writing audit row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Read loads all rows, newest first. Short rows from interrupted writes are
// tolerated and padded rather than failing the whole read. A missing file
// yields an empty slice.
func (l *Log) Read() ([]Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var out []Outcome
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == header[0] {
			continue
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		ts, _ := time.ParseInLocation(timestampLayout, rec[1], time.Local)
		out = append(out, Outcome{
			SessionID: rec[0],
			Timestamp: ts,
			FileName:  rec[2],
			StartDate: rec[3],
			Status:    rec[4],
			EndDate:   rec[5],
			Err:       rec[6],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}
