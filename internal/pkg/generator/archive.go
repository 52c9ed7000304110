package generator

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ManifestFileName is written next to the extracted files before packaging.
const ManifestFileName = "manifest.json"

// Manifest summarizes the extracted output set. It describes only the files
// the extraction produced; the manifest itself is not in its own counts.
type Manifest struct {
	TotalFiles  int       `json:"total_files"`
	TotalBytes  int64     `json:"total_bytes"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ValidateOutput checks that the extraction tool actually produced artifacts:
// either the llms.txt index or at least one markdown page.
func ValidateOutput(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "llms.txt")); err == nil {
		return nil
	}
	if CountPages(dir) > 0 {
		return nil
	}
	return fmt.Errorf("no output files generated in %s", dir)
}

// CountPages counts the extracted markdown pages under dir. This is the
// derived page count stamped on a completed generation, counted from real
// output rather than the requested budget.
func CountPages(dir string) int {
	pages := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			pages++
		}
		return nil
	})
	return pages
}

// WriteManifest writes manifest.json into dir and returns the file count and
// aggregate size of the full artifact set, manifest included. The manifest
// content covers the extracted files only.
func WriteManifest(dir string) (int, int64, error) {
	files := 0
	var bytes int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	manifest := Manifest{
		TotalFiles:  files,
		TotalBytes:  bytes,
		GeneratedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return 0, 0, err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644); err != nil {
		return 0, 0, fmt.Errorf("failed to write manifest: %w", err)
	}

	return files + 1, bytes + int64(len(data)), nil
}

// CreateArchive zips the contents of sourceDir into zipPath and returns the
// archive size in bytes.
func CreateArchive(sourceDir, zipPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return 0, err
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(zipPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
