package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Display prints a progress block at a fixed interval
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewDisplay creates a display writing to stdout
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return NewDisplayTo(os.Stdout, tracker, interval)
}

// NewDisplayTo creates a display writing to out
func NewDisplayTo(out io.Writer, tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop prints the final block and waits for the loop to exit. Safe to call twice.
func (d *Display) Stop() {
	d.once.Do(func() {
		close(d.stopCh)
		<-d.done
	})
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(status Status) []string {
	percent := d.tracker.GetProgressPercent()
	settled := status.Skipped + status.Processed

	lines := []string{
		"",
		"Profile extraction progress",
		strings.Repeat("=", 51),
		fmt.Sprintf("Records: %d/%d (%.1f%%)", settled, status.Total, percent),
		"    " + d.generateProgressBar(percent, 40),
		"",
		fmt.Sprintf("  Resolved: %d", status.Resolved),
		fmt.Sprintf("  Failed:   %d", status.Failed),
		fmt.Sprintf("  Skipped:  %d", status.Skipped),
		fmt.Sprintf("  Pending:  %d", status.Remaining()),
		"",
		fmt.Sprintf("  Current rate: %s", FormatRate(status.CurrentRate)),
		fmt.Sprintf("  Average rate: %s", FormatRate(status.AverageRate)),
		fmt.Sprintf("  Elapsed:      %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("  Remaining:    %s", FormatDuration(status.ETA)),
	}
	if status.ETA > 0 {
		lines = append(lines, fmt.Sprintf("  Finish at:    %s", time.Now().Add(status.ETA).Format("15:04:05")))
	}
	lines = append(lines, "", fmt.Sprintf("Last update: %s", status.LastUpdateTime.Format("15:04:05")))

	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		"Run finished",
		strings.Repeat("=", 51),
		fmt.Sprintf("Processed: %d records", status.Processed),
		fmt.Sprintf("Resolved:  %d", status.Resolved),
		fmt.Sprintf("Failed:    %d", status.Failed),
		fmt.Sprintf("Skipped:   %d", status.Skipped),
		fmt.Sprintf("Pending:   %d", status.Remaining()),
		fmt.Sprintf("Elapsed:   %s", FormatDuration(time.Since(status.StartTime))),
		"",
	}
}

func (d *Display) generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
