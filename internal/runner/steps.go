package runner

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Step status values reported while preparing and running a scan
const (
	StepRunning   = "running"
	StepCompleted = "completed"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
)

// StepReporter receives lifecycle step updates for display
type StepReporter interface {
	Step(name, status, detail string)
}

// ColorReporter prints lifecycle steps as a coloured tree
type ColorReporter struct {
	w     io.Writer
	start map[string]time.Time
}

// NewColorReporter writes step lines to w
func NewColorReporter(w io.Writer) *ColorReporter {
	return &ColorReporter{w: w, start: map[string]time.Time{}}
}

func (r *ColorReporter) Step(name, status, detail string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)
	white := color.New(color.FgWhite, color.Bold)
	dim := color.New(color.Faint)

	// Format: ├── [icon] Step name                 (duration) detail
	switch status {
	case StepRunning:
		r.start[name] = time.Now()
		cyan.Fprint(r.w, "├── ")
		white.Fprintf(r.w, "[%s] ", statusIcon(status))
		cyan.Fprintf(r.w, "%-30s ", name)
		dim.Fprintln(r.w, "running...")
	case StepCompleted:
		green.Fprint(r.w, "├── ")
		white.Fprintf(r.w, "[%s] ", statusIcon(status))
		green.Fprintf(r.w, "%-30s ", name)
		if t, ok := r.start[name]; ok {
			dim.Fprintf(r.w, "%-8s ", formatDuration(time.Since(t)))
		}
		fmt.Fprintln(r.w, detail)
	case StepSkipped:
		yellow.Fprint(r.w, "├── ")
		white.Fprintf(r.w, "[%s] ", statusIcon(status))
		dim.Fprintf(r.w, "%-30s ", name)
		dim.Fprintln(r.w, orDefault(detail, "skipped"))
	case StepFailed:
		red.Fprint(r.w, "├── ")
		white.Fprintf(r.w, "[%s] ", statusIcon(status))
		red.Fprintf(r.w, "%-30s ", name)
		red.Fprintln(r.w, orDefault(detail, "FAILED"))
	}
}

func statusIcon(status string) string {
	switch status {
	case StepRunning:
		return "→"
	case StepCompleted:
		return "✓"
	case StepFailed:
		return "✗"
	default:
		return "○"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

type nopReporter struct{}

func (nopReporter) Step(string, string, string) {}
