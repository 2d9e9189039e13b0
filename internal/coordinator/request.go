package coordinator

import (
	"fmt"
	"time"

	"github.com/tdhoang/reportfetch/internal/catalog"
	"github.com/tdhoang/reportfetch/internal/chunk"
)

const requestDateLayout = "02/01/2006"

// ReportItem is one requested report with its window and chunking policy.
type ReportItem struct {
	ReportKey   string `json:"report"`
	FromDate    string `json:"from_date"`
	ToDate      string `json:"to_date"`
	ChunkPolicy string `json:"chunk_policy"`
}

// Window parses the item's date strings.
func (it ReportItem) Window() (from, to time.Time, err error) {
	from, err = time.ParseInLocation(requestDateLayout, it.FromDate, time.Local)
	if err != nil {
		return from, to, fmt.Errorf("from date %q: %w", it.FromDate, err)
	}
	to, err = time.ParseInLocation(requestDateLayout, it.ToDate, time.Local)
	if err != nil {
		return from, to, fmt.Errorf("to date %q: %w", it.ToDate, err)
	}
	return from, to, nil
}

// Request describes one full download run.
type Request struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
	// OTPSeed is injected from server config at run time and never
	// round-trips through JSON or the configuration store.
	OTPSeed string `json:"-"`

	Items   []ReportItem `json:"items"`
	Regions []int        `json:"regions,omitempty"`
}

// Validate rejects structurally bad requests up front, before any browser
// or run state is touched. Date parse failures are not checked here; they
// are per-item runtime outcomes, not request rejections.
func (r Request) Validate() error {
	if r.Identity == "" || r.Secret == "" {
		return fmt.Errorf("identity and secret are required")
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("at least one report item is required")
	}
	needsRegions := false
	for _, it := range r.Items {
		if it.ReportKey == "" {
			return fmt.Errorf("report key missing on an item")
		}
		if it.FromDate == "" || it.ToDate == "" {
			return fmt.Errorf("report %s: both dates are required", it.ReportKey)
		}
		if _, err := chunk.ParsePolicy(it.ChunkPolicy); it.ChunkPolicy != "" && err != nil {
			return fmt.Errorf("report %s: %w", it.ReportKey, err)
		}
		if spec, err := catalog.Lookup(it.ReportKey); err == nil && spec.RequiresRegions {
			needsRegions = true
		}
	}
	if needsRegions && len(r.Regions) == 0 {
		return fmt.Errorf("a requested report requires at least one region")
	}
	for _, id := range r.Regions {
		if _, ok := catalog.RegionByID(id); !ok {
			return fmt.Errorf("unknown region id %d", id)
		}
	}
	return nil
}
