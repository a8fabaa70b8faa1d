// Package report writes the final output table.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"profile2site/internal/record"
)

// Header is the first row of every report.
var Header = []string{"identifier", "result", "status"}

// Write replaces path with one row per record, in the given order. The file is written
// to a sibling temporary file and renamed into place, so readers never see a partial
// report.
func Write(path string, records []record.Record) (err error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, r := range records {
		result := ""
		if r.Status == record.StatusResolved {
			result = r.Result
		}
		if err := w.Write([]string{r.ID, result, string(r.Status)}); err != nil {
			return fmt.Errorf("report: write %s: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("report: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("report: rename into %s: %w", filepath.Base(path), err)
	}
	return nil
}
