// Package catalog holds the static report and region registries. Adding a
// report type or a selectable region is a data change here, not a new code
// branch in the coordinator.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// ReportSpec describes one downloadable report: where it lives, how to
// trigger its export, and any setup the page needs before exporting.
type ReportSpec struct {
	// Key identifies the report in requests and saved configurations.
	Key string
	// Name is the human-readable label shown by the facade.
	Name string
	// URL is the portal page that hosts the report.
	URL string
	// SetupLocator, when non-empty, is a control (report-type radio etc.)
	// that must be activated before the export trigger.
	SetupLocator string
	// ExportLocator is the export button for this report page.
	ExportLocator string
	// Suffix is appended to renamed download files for this report.
	Suffix string
	// RequiresRegions marks reports that must be exported once per
	// selected region.
	RequiresRegions bool
}

// Export button ids differ between the plain report pages and the regional
// inventory page.
const (
	csvExportLocator   = `#ctl00_MainContent_btnExportCSVDemo_input`
	excelExportLocator = `#ctl00_MainContent_btnExportExcel_input`

	typeRadioImports = `#ctl00_MainContent_rblType_1`
	typeRadioExports = `#ctl00_MainContent_rblType_0`
)

var reports = []ReportSpec{
	{
		Key:           "FAF001",
		Name:          "FAF001 - Sales Report",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF001.aspx",
		SetupLocator:  typeRadioImports,
		ExportLocator: csvExportLocator,
	},
	{
		Key:           "FAF002",
		Name:          "FAF002 - Dosage Report",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF002.aspx",
		ExportLocator: csvExportLocator,
	},
	{
		Key:           "FAF003",
		Name:          "FAF003 - Report Of Other Imports And Exports",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF003.aspx",
		ExportLocator: csvExportLocator,
	},
	{
		Key:           "FAF004N",
		Name:          "FAF004N - Internal Rotation Report (Imports)",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF004.aspx",
		SetupLocator:  typeRadioImports,
		ExportLocator: csvExportLocator,
		Suffix:        "N",
	},
	{
		Key:           "FAF004X",
		Name:          "FAF004X - Internal Rotation Report (Exports)",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF004.aspx",
		SetupLocator:  typeRadioExports,
		ExportLocator: csvExportLocator,
		Suffix:        "X",
	},
	{
		Key:           "FAF005",
		Name:          "FAF005 - Detailed Report Of Imports",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF005.aspx",
		ExportLocator: csvExportLocator,
	},
	{
		Key:           "FAF006",
		Name:          "FAF006 - Supplier Return Report",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF006.aspx",
		ExportLocator: csvExportLocator,
	},
	{
		Key:           "FAF028",
		Name:          "FAF028 - Detailed Import - Export Transaction Report",
		URL:           "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF028.aspx",
		ExportLocator: csvExportLocator,
	},
	{
		Key:             "FAF030",
		Name:            "FAF030 - FAF Inventory Report",
		URL:             "https://bi.nhathuoclongchau.com.vn/MIS/PHAR/PHARFAF030.aspx",
		ExportLocator:   excelExportLocator,
		RequiresRegions: true,
	},
}

// Lookup resolves a report key case- and whitespace-insensitively. The full
// display name is accepted too, since saved configurations from the old UI
// carry those.
func Lookup(key string) (ReportSpec, error) {
	want := normalize(key)
	for _, r := range reports {
		if normalize(r.Key) == want || normalize(r.Name) == want {
			return r, nil
		}
	}
	return ReportSpec{}, fmt.Errorf("unknown report key %q", key)
}

// Reports returns all known report specs in catalog order.
func Reports() []ReportSpec {
	out := make([]ReportSpec, len(reports))
	copy(out, reports)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Region is one selectable sub-population in the portal's location tree.
type Region struct {
	ID   int
	Name string
	// Locator is the XPath of the region's checkbox inside the tree
	// dropdown. The tree has no usable ids, hence absolute paths.
	Locator string
}

const regionTreeXPath = `/html/body/form/div[1]/div/div/ul/li/span[3]/div/ul/li/ul/li[%d]/div/span[3]`

var regions = map[int]Region{
	0: {ID: 0, Name: "HCM", Locator: fmt.Sprintf(regionTreeXPath, 1)},
	1: {ID: 1, Name: "HNi", Locator: fmt.Sprintf(regionTreeXPath, 2)},
	2: {ID: 2, Name: "Mdong", Locator: fmt.Sprintf(regionTreeXPath, 3)},
	3: {ID: 3, Name: "Mtay", Locator: fmt.Sprintf(regionTreeXPath, 4)},
	4: {ID: 4, Name: "MB2", Locator: fmt.Sprintf(regionTreeXPath, 5)},
	5: {ID: 5, Name: "Mtrung", Locator: fmt.Sprintf(regionTreeXPath, 6)},
	6: {ID: 6, Name: "MB1", Locator: fmt.Sprintf(regionTreeXPath, 7)},
}

// RegionByID resolves a region id; the bool reports whether it exists.
func RegionByID(id int) (Region, bool) {
	r, ok := regions[id]
	return r, ok
}

// RegionIDs returns all known region ids in ascending order.
func RegionIDs() []int {
	ids := make([]int, 0, len(regions))
	for id := range regions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
