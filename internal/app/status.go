package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"profile2site/internal/record"
)

// WriteStatus prints the record counts followed by every failed identifier.
func WriteStatus(w io.Writer, loaded *Loaded) error {
	counts := loaded.Store.Counts()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", counts.Total)
	fmt.Fprintf(tw, "resolved\t%d\n", counts.Resolved)
	fmt.Fprintf(tw, "failed\t%d\n", counts.Failed)
	fmt.Fprintf(tw, "pending\t%d\n", counts.Pending)
	fmt.Fprintf(tw, "snapshot entries\t%d\n", loaded.Entries)
	if err := tw.Flush(); err != nil {
		return err
	}

	var failed []record.Record
	for _, r := range loaded.Store.Records() {
		if r.Status == record.StatusFailed {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\nfailed identifiers (retry with: resume --retry-failed):\n")
	for _, r := range failed {
		if _, err := fmt.Fprintf(w, "  %s\n", r.ID); err != nil {
			return err
		}
	}
	return nil
}
