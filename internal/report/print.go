package report

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

const (
	contentWidth = 60
	labelWidth   = 26
)

var ansiPattern = regexp.MustCompile("\033\\[[0-9;]*m")

// printer writes the boxed report, with colors only on a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) paint(color, s string) string {
	if !p.color || color == "" {
		return s
	}
	return color + s + colorReset
}

func (p *printer) rule(ch string) {
	fmt.Fprintln(p.w, p.paint(colorCyan, strings.Repeat(ch, contentWidth)))
}

func (p *printer) title(s string) {
	pad := (contentWidth - measureString(s)) / 2
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintln(p.w, strings.Repeat(" ", pad)+p.paint(colorBold, s))
}

// row prints "  label<pad>   value".
func (p *printer) row(label, value, valueColor string) {
	pad := labelWidth - measureString(label)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(p.w, "  %s%s   %s\n", label, strings.Repeat(" ", pad), p.paint(valueColor, value))
}

func (p *printer) detail(s, color string) {
	fmt.Fprintf(p.w, "      %s\n", p.paint(color, s))
}

// Print outputs the final report.
func (r *Report) Print(w io.Writer) {
	p := newPrinter(w)

	fmt.Fprintln(w)
	p.rule("=")
	p.title("📊 RETRIEVAL REPORT")
	p.rule("-")

	p.row("Run", r.RunID, colorDim)
	p.row("Output", r.OutputDir, "")
	p.row("Duration", formatDuration(r.Duration()), "")
	p.rule("-")

	for _, e := range r.Entries {
		label := fmt.Sprintf("%s (%s)", e.Name, strategyLabel(e.Strategy))
		value := fmt.Sprintf("%d/%d", e.Result.Count(), e.Expected)
		color := colorGreen
		switch {
		case !e.Result.Success:
			color = colorRed
		case e.Result.Count() != e.Expected:
			color = colorYellow
		}
		p.row(label, value, color)
		if e.Result.Err != nil {
			p.detail("- "+truncate(e.Result.Err.Error(), contentWidth-8), colorRed)
		}
	}

	p.rule("-")
	total := fmt.Sprintf("%d/%d", r.TotalActual(), r.TotalExpected())
	if r.Discrepancy() {
		p.row("Total files", total, colorYellow)
	} else {
		p.row("Total files", total, colorGreen)
	}
	p.row("Tasks", fmt.Sprintf("%d succeeded, %d failed", r.Succeeded(), r.Failed()), "")

	if len(r.Folders) > 0 {
		p.rule("-")
		for _, f := range r.Folders {
			p.row(f.Label+" files", f.Subfolder+"/", colorDim)
			if len(f.Files) == 0 {
				p.detail("(none)", colorDim)
			}
			for _, fi := range f.Files {
				p.detail(fmt.Sprintf("%s  %s", fi.Name, humanize.Bytes(uint64(fi.Size))), "")
			}
		}
	}

	p.rule("-")
	if r.Discrepancy() {
		p.row(fmt.Sprintf("⚠️  Expected %d files, got %d", r.TotalExpected(), r.TotalActual()), "", colorYellow)
	} else {
		p.row("✅ All datasets downloaded", "", colorGreen)
	}
	p.rule("=")
	fmt.Fprintln(w)
}

func strategyLabel(s task.Strategy) string {
	switch s {
	case task.BrowserDriven:
		return "browser"
	case task.HTTPDirect:
		return "HTTP"
	default:
		return string(s)
	}
}

// truncate shortens s to at most width display cells.
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// measureString returns the display width of s without ANSI codes.
func measureString(s string) int {
	return runewidth.StringWidth(ansiPattern.ReplaceAllString(s, ""))
}
