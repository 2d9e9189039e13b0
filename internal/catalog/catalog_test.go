package catalog

import (
	"strings"
	"testing"
)

func TestLookupKeyVariants(t *testing.T) {
	cases := []string{"FAF001", "faf001", "  FAF001  ", "FAF001 - Sales Report", "faf001 - sales report"}
	for _, c := range cases {
		got, err := Lookup(c)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", c, err)
		}
		if got.Key != "FAF001" {
			t.Fatalf("Lookup(%q) = %q, want FAF001", c, got.Key)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("FAF999"); err == nil {
		t.Fatal("expected error for unknown report key")
	}
}

func TestReportData(t *testing.T) {
	n, err := Lookup("FAF004N")
	if err != nil {
		t.Fatal(err)
	}
	x, err := Lookup("FAF004X")
	if err != nil {
		t.Fatal(err)
	}
	if n.URL != x.URL {
		t.Fatalf("FAF004N and FAF004X should share a page, got %q vs %q", n.URL, x.URL)
	}
	if n.SetupLocator == x.SetupLocator {
		t.Fatal("FAF004N and FAF004X should use different type radios")
	}
	if n.Suffix != "N" || x.Suffix != "X" {
		t.Fatalf("unexpected suffixes %q, %q", n.Suffix, x.Suffix)
	}

	inv, err := Lookup("FAF030")
	if err != nil {
		t.Fatal(err)
	}
	if !inv.RequiresRegions {
		t.Fatal("FAF030 must require regions")
	}
	if !strings.Contains(inv.ExportLocator, "btnExportExcel") {
		t.Fatalf("FAF030 should export via the excel button, got %q", inv.ExportLocator)
	}

	for _, r := range Reports() {
		if r.RequiresRegions != (r.Key == "FAF030") {
			t.Fatalf("only FAF030 should require regions, %s disagrees", r.Key)
		}
	}
}

func TestRegions(t *testing.T) {
	ids := RegionIDs()
	if len(ids) != 7 {
		t.Fatalf("expected 7 regions, got %d", len(ids))
	}
	names := map[int]string{0: "HCM", 1: "HNi", 2: "Mdong", 3: "Mtay", 4: "MB2", 5: "Mtrung", 6: "MB1"}
	for id, want := range names {
		r, ok := RegionByID(id)
		if !ok {
			t.Fatalf("missing region %d", id)
		}
		if r.Name != want {
			t.Fatalf("region %d = %q, want %q", id, r.Name, want)
		}
		if r.Locator == "" {
			t.Fatalf("region %d has no locator", id)
		}
	}
	if _, ok := RegionByID(99); ok {
		t.Fatal("region 99 should not exist")
	}
}
