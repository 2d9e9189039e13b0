package postproc

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var (
	from = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRenameScheme(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, nil)
	orig := write(t, dir, "Sales Report.csv", "x")

	got, err := p.Rename(orig, from, to, "N")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "Sales_Report_01012025_31012025N.csv")
	if got != want {
		t.Fatalf("renamed to %q, want %q", got, want)
	}
	if _, err := os.Stat(orig); !os.IsNotExist(err) {
		t.Fatal("original file should be gone")
	}
}

func TestRenamePassthrough(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, nil)
	orig := write(t, dir, "BaoCaoFAF001_20250101.csv", "x")

	got, err := p.Rename(orig, from, to, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != orig {
		t.Fatalf("portal-named file should be untouched, got %q", got)
	}
}

func TestRenameCollisionCounter(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, nil)

	first := write(t, dir, "report.csv", "a")
	got1, err := p.Rename(first, from, to, "")
	if err != nil {
		t.Fatal(err)
	}

	second := write(t, dir, "report.csv", "b")
	got2, err := p.Rename(second, from, to, "")
	if err != nil {
		t.Fatal(err)
	}

	if got1 == got2 {
		t.Fatalf("collision should produce a distinct name, both %q", got1)
	}
	if filepath.Base(got2) != "report_01012025_31012025_1.csv" {
		t.Fatalf("unexpected collision name %q", filepath.Base(got2))
	}
	for _, path := range []string{got1, got2} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing %q: %v", path, err)
		}
	}
}

func makeZip(t *testing.T, dir, name string, members map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for member, content := range members {
		w, err := zw.Create(member)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExpandArchive(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, nil)
	archive := makeZip(t, dir, "export.zip", map[string]string{
		"inner/North Region.xlsx": "north",
		"South.xlsx":              "south",
	})

	members, err := p.ExpandArchive(archive, from, to, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	wantNames := map[string]bool{
		"North_Region_01012025_31012025.xlsx": false,
		"South_01012025_31012025.xlsx":        false,
	}
	for _, m := range members {
		base := filepath.Base(m)
		if _, ok := wantNames[base]; !ok {
			t.Fatalf("unexpected member %q", base)
		}
		wantNames[base] = true
	}
	for name, seen := range wantNames {
		if !seen {
			t.Fatalf("member %q not extracted", name)
		}
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatal("archive should be removed after expansion")
	}

	// Second expansion of the same path is a no-op.
	again, err := p.ExpandArchive(archive, from, to, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("repeat expansion should yield nothing, got %v", again)
	}
}

func TestIsArchive(t *testing.T) {
	if !IsArchive("a/b/export.ZIP") {
		t.Fatal("zip extension should be recognized case-insensitively")
	}
	if IsArchive("report.csv") {
		t.Fatal("csv is not an archive")
	}
}
