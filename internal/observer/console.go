package observer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/progress"
	"github.com/rootsploit/voyage/internal/storage"
)

// DefaultRedraw is how often the console re-reads the tracker
const DefaultRedraw = 250 * time.Millisecond

// Console draws a progress bar with the scan log scrolling above it.
// Typing p toggles pause and q quits, each followed by Enter.
type Console struct {
	In     io.Reader
	Out    io.Writer
	Redraw time.Duration
}

// NewConsole reads commands from in and draws to out
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{In: in, Out: out, Redraw: DefaultRedraw}
}

// Observe returns when the scan completes, the user quits, or ctx is done
func (c *Console) Observe(ctx context.Context, tracker *progress.Tracker, pause *control.Pause) error {
	redraw := c.Redraw
	if redraw <= 0 {
		redraw = DefaultRedraw
	}

	cmds := make(chan rune, 8)
	stop := make(chan struct{})
	defer close(stop)
	if c.In != nil {
		go readCommands(c.In, cmds, stop)
	}

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(c.Out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))

	fmt.Fprintln(c.Out, color.New(color.Faint).Sprint("Type p + Enter to pause/resume, q + Enter to quit"))

	ticker := time.NewTicker(redraw)
	defer ticker.Stop()

	var lastLog int64
	for {
		select {
		case <-ctx.Done():
			_ = bar.Clear()
			return nil

		case <-tracker.Done():
			lastLog = c.render(bar, tracker.Snapshot(), pause, lastLog)
			_ = bar.Finish()
			c.summary(tracker.Snapshot())
			return nil

		case cmd := <-cmds:
			switch cmd {
			case 'p':
				if pause.Toggle() {
					c.notice(bar, "Paused. Workers finish their current host and wait.")
				} else {
					c.notice(bar, "Resumed.")
				}
			case 'q':
				_ = bar.Clear()
				fmt.Fprintln(c.Out, "Quitting.")
				return nil
			}

		case <-ticker.C:
			lastLog = c.render(bar, tracker.Snapshot(), pause, lastLog)
		}
	}
}

// render prints log entries newer than lastLog above the bar and updates it
func (c *Console) render(bar *progressbar.ProgressBar, snap progress.Snapshot, pause *control.Pause, lastLog int64) int64 {
	fresh := make([]storage.LogEntry, 0, len(snap.Logs))
	for _, entry := range snap.Logs {
		if entry.ID > lastLog {
			fresh = append(fresh, entry)
		}
	}
	// Snapshot logs are newest first
	slices.Reverse(fresh)
	if len(fresh) > 0 {
		_ = bar.Clear()
		for _, entry := range fresh {
			fmt.Fprintln(c.Out, formatEntry(entry))
		}
		lastLog = fresh[len(fresh)-1].ID
	}

	desc := fmt.Sprintf("Found %d", snap.FoundCount)
	if pause.Paused() {
		desc += " [yellow](paused)[reset]"
	}
	bar.Describe(desc)
	if snap.Total > 0 {
		bar.ChangeMax64(snap.Total)
		_ = bar.Set64(snap.Done())
	}
	return lastLog
}

func (c *Console) notice(bar *progressbar.ProgressBar, msg string) {
	_ = bar.Clear()
	color.New(color.FgYellow).Fprintln(c.Out, msg)
}

func (c *Console) summary(snap progress.Snapshot) {
	fmt.Fprintln(c.Out)
	color.New(color.FgGreen, color.Bold).Fprintf(c.Out, "Scan complete: %d found, %d not found\n",
		snap.FoundCount, snap.NotFoundCount)
	for _, r := range snap.Found {
		fmt.Fprintf(c.Out, "  %s\n", r.FQDN())
	}
}

func formatEntry(entry storage.LogEntry) string {
	level := strings.ToUpper(string(entry.Level))
	var c *color.Color
	switch entry.Level {
	case storage.LevelError:
		c = color.New(color.FgRed)
	case storage.LevelWarn:
		c = color.New(color.FgYellow)
	case storage.LevelInfo:
		c = color.New(color.FgCyan)
	default:
		c = color.New(color.Faint)
	}
	return fmt.Sprintf("%s %s %s",
		entry.CreatedAt.Local().Format("15:04:05"), c.Sprintf("%-5s", level), entry.Description)
}

// readCommands forwards the first letter of every input line. EOF stops
// reading without quitting so a closed stdin leaves the scan running.
func readCommands(in io.Reader, cmds chan<- rune, stop <-chan struct{}) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		select {
		case cmds <- rune(line[0]):
		case <-stop:
			return
		}
	}
}
