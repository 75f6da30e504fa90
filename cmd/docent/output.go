package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/docent/internal/retrieval"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// typer prints a growing answer, writing only what was not printed yet.
// When the text is rewritten rather than extended, it starts a new line.
type typer struct {
	w       io.Writer
	printed string
}

func (t *typer) update(text string) {
	if rest, ok := strings.CutPrefix(text, t.printed); ok {
		fmt.Fprint(t.w, rest)
	} else {
		fmt.Fprint(t.w, "\n"+text)
	}
	t.printed = text
}

func (t *typer) finish() {
	if t.printed != "" {
		fmt.Fprintln(t.w)
	}
}

func printDocuments(w io.Writer, docs []retrieval.SearchResult) {
	if len(docs) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, d := range docs {
		line := fmt.Sprintf("  • %s", d.Title)
		var meta []string
		for _, m := range []string{d.DepartmentName, d.CategoryName, d.StorageLocation} {
			if m != "" {
				meta = append(meta, m)
			}
		}
		if len(meta) > 0 {
			line += colorize(colorDim, " ("+strings.Join(meta, " · ")+")")
		}
		if !d.UploadDate.IsZero() {
			line += colorize(colorDim, " "+d.UploadDate.Format("2006-01-02"))
		}
		fmt.Fprintln(w, line)
	}
}
