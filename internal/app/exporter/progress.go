package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"golang.org/x/term"
)

type noopProgress struct{}

func (noopProgress) SetProgress(float64, string) {}

// TerminalProgress draws a single-line progress bar on a terminal. On
// anything that is not a terminal it stays silent.
type TerminalProgress struct {
	out             io.Writer
	enabled         bool
	lastRenderWidth int
	bar             progress.Model
}

func NewTerminalProgress(f *os.File) *TerminalProgress {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 36

	if cols, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && cols > 0 {
		bar.Width = clampWidth(cols - 40)
	} else if f != nil {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			bar.Width = clampWidth(cols - 40)
		}
	}

	return &TerminalProgress{
		out:     f,
		enabled: isTerminal(f),
		bar:     bar,
	}
}

func clampWidth(width int) int {
	if width < 16 {
		return 16
	}
	if width > 64 {
		return 64
	}
	return width
}

func (p *TerminalProgress) SetProgress(percent float64, message string) {
	if !p.enabled {
		return
	}
	p.render(percent/100, message)
}

// Close ends the progress line so later output starts on a fresh line.
func (p *TerminalProgress) Close() {
	if !p.enabled {
		return
	}
	if p.lastRenderWidth > 0 {
		fmt.Fprint(p.out, "\n")
		p.lastRenderWidth = 0
	}
}

func (p *TerminalProgress) render(fraction float64, label string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	line := fmt.Sprintf("%s %3.0f%% %s", p.bar.ViewAs(fraction), fraction*100, strings.TrimSpace(label))
	pad := ""
	if p.lastRenderWidth > len(line) {
		pad = strings.Repeat(" ", p.lastRenderWidth-len(line))
	}
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
	p.lastRenderWidth = len(line)
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// LogProgress reports progress as structured log records. Only whole-percent
// changes or a new status line produce output.
type LogProgress struct {
	Logger *slog.Logger

	lastPercent int
	lastMessage string
}

func (p *LogProgress) SetProgress(percent float64, message string) {
	whole := int(percent)
	if whole == p.lastPercent && message == p.lastMessage {
		return
	}
	p.lastPercent = whole
	p.lastMessage = message
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("progress", "percent", whole, "status", message)
}
