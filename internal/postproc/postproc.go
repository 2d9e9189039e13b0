// Package postproc names downloaded files after the window and report they
// belong to, and unpacks archive downloads so the audit trail records the
// contained reports rather than an opaque zip.
package postproc

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const renameDateLayout = "02012006"

// Processor renames and expands downloads within one run directory.
type Processor struct {
	Dir    string
	Logger *slog.Logger

	// expanded tracks archives already unpacked this run, so a retried
	// unit cannot double-extract.
	expanded map[string]struct{}
}

func New(dir string, log *slog.Logger) *Processor {
	return &Processor{Dir: dir, Logger: log, expanded: make(map[string]struct{})}
}

// Rename gives the downloaded file a deterministic name built from its
// original stem, the export window, and the report suffix. When the target
// name already exists a numeric counter is appended rather than
// overwriting. The returned path is the file's new location.
//
// Files whose name starts with "BaoCaoFAF001" already carry their window in
// the portal-assigned name and are left untouched.
func (p *Processor) Rename(original string, from, to time.Time, suffix string) (string, error) {
	base := filepath.Base(original)
	if strings.HasPrefix(base, "BaoCaoFAF001") {
		return original, nil
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stem = strings.ReplaceAll(stem, " ", "_")

	name := fmt.Sprintf("%s_%s_%s%s%s",
		stem,
		from.Format(renameDateLayout),
		to.Format(renameDateLayout),
		suffix,
		ext,
	)
	target := filepath.Join(p.Dir, name)
	for n := 1; exists(target); n++ {
		target = filepath.Join(p.Dir, fmt.Sprintf("%s_%s_%s%s_%d%s",
			stem,
			from.Format(renameDateLayout),
			to.Format(renameDateLayout),
			suffix,
			n,
			ext,
		))
	}

	if err := os.Rename(original, target); err != nil {
		return original, fmt.Errorf("renaming %s: %w", base, err)
	}
	p.logger().Info("download renamed", "from", base, "to", filepath.Base(target))
	return target, nil
}

// IsArchive reports whether the file should be expanded after download.
func IsArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// ExpandArchive unpacks a zip into the run directory and renames every
// member with the same window scheme as Rename. The archive itself is
// removed on success. Returns the extracted member paths. A second call for
// the same archive path in one run is a no-op.
func (p *Processor) ExpandArchive(archive string, from, to time.Time, suffix string) ([]string, error) {
	if _, done := p.expanded[archive]; done {
		return nil, nil
	}

	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", filepath.Base(archive), err)
	}
	defer r.Close()

	var members []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Flatten: member paths inside portal archives carry no useful
		// structure, and writing outside the run dir must be impossible.
		dest := filepath.Join(p.Dir, filepath.Base(f.Name))
		if err := extractMember(f, dest); err != nil {
			return members, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		renamed, err := p.Rename(dest, from, to, suffix)
		if err != nil {
			return append(members, dest), err
		}
		members = append(members, renamed)
		p.logger().Info("archive member extracted",
			"archive", filepath.Base(archive),
			"member", filepath.Base(renamed),
			"bytes", f.UncompressedSize64,
		)
	}

	p.expanded[archive] = struct{}{}
	if err := os.Remove(archive); err != nil {
		p.logger().Warn("could not remove expanded archive", "archive", archive, "err", err)
	}
	return members, nil
}

func extractMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
