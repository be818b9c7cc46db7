// Package format provides console rendering for the worker-status snapshot.
// It adapts column widths to the terminal and colors result codes, carried
// over from the teacher's dependency-report console renderer.
package format

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/threatcode/janitor/pkg/model"
	"github.com/threatcode/janitor/pkg/report"
)

// ConsoleFormatter renders a status Report in a terminal-friendly table
// that adapts to the current console width.
type ConsoleFormatter struct {
	// MaxDescriptionWidth constrains the error-description column. If 0, a
	// dynamic width is chosen based on terminal width (with a sane minimum).
	MaxDescriptionWidth int

	// EnableColors toggles ANSI color output for the result column.
	EnableColors bool
}

// NewConsoleFormatter creates a formatter with sensible defaults.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{MaxDescriptionWidth: 0, EnableColors: true}
}

// Render writes the formatted report to writer.
func (f *ConsoleFormatter) Render(rpt *report.Report, writer io.Writer) error {
	if rpt == nil {
		return fmt.Errorf("nil report")
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(writer)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.DrawBorder = true

	tw.AppendHeader(table.Row{"Package", "Campaign", "Result", "Finished", "Worker", "Detail"})

	descColWidth := f.buildDescriptionWidth(writer)
	if descColWidth > 0 {
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 6, WidthMax: descColWidth, WidthMin: minInt(10, descColWidth), Transformer: truncTransformer(descColWidth)},
		})
	}

	for _, run := range rpt.Runs {
		tw.AppendRow(table.Row{run.Package, run.Campaign, f.resultCell(run.Result), run.FinishTime, run.WorkerName, run.Error})
	}

	tw.Render()

	successCount := len(rpt.Runs)
	for _, run := range rpt.Runs {
		if !model.IsPublishReady(run.Result) {
			successCount--
		}
	}

	if _, err := fmt.Fprintln(writer); err != nil {
		return fmt.Errorf("failed writing summary spacer newline: %w", err)
	}
	if _, err := fmt.Fprintf(writer, "Summary:\n"); err != nil {
		return fmt.Errorf("failed writing summary header: %w", err)
	}
	if _, err := fmt.Fprintf(writer, "  Runs shown: %d/%d publish-ready\n", successCount, len(rpt.Runs)); err != nil {
		return fmt.Errorf("failed writing runs-shown line: %w", err)
	}

	if rpt.HasErrors() {
		if _, err := fmt.Fprintln(writer); err != nil {
			return fmt.Errorf("failed writing errors spacer newline: %w", err)
		}
		if _, err := fmt.Fprintf(writer, "Non-publish-ready runs:\n"); err != nil {
			return fmt.Errorf("failed writing errors header: %w", err)
		}
		for _, run := range rpt.Runs {
			if !model.IsPublishReady(run.Result) {
				if _, err := fmt.Fprintf(writer, "  %-30s %s: %s\n", run.Identifier(), run.Result, run.Error); err != nil {
					return fmt.Errorf("failed writing error line for %s: %w", run.Identifier(), err)
				}
			}
		}
	}

	return nil
}

func (f *ConsoleFormatter) resultCell(result model.ResultCode) string {
	if model.IsPublishReady(result) {
		return f.color(string(result), text.FgGreen)
	}
	return f.color(string(result), text.FgRed)
}

func (f *ConsoleFormatter) buildDescriptionWidth(w io.Writer) int {
	if f.MaxDescriptionWidth > 0 {
		return f.MaxDescriptionWidth
	}
	termWidth := detectTerminalWidth(w)
	if termWidth <= 0 {
		return 0
	}
	if termWidth < 60 {
		termWidth = 60
	}
	// Package/Campaign/Result/Finished/Worker consume roughly this much
	// fixed space; whatever remains goes to the detail column.
	remaining := termWidth - 90
	if remaining < 20 {
		remaining = 20
	}
	return remaining
}

func detectTerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			return width
		}
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return width
	}
	return -1
}

func truncTransformer(max int) text.Transformer {
	return func(val interface{}) string {
		s := fmt.Sprint(val)
		if runeLen := utf8.RuneCountInString(s); runeLen > max {
			return truncateRunes(s, max)
		}
		return s
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b []rune
	for _, r := range s {
		if len(b) >= max-1 {
			break
		}
		b = append(b, r)
	}
	return string(b) + "…"
}

func (f *ConsoleFormatter) color(s string, c text.Color) string {
	if !f.EnableColors {
		return s
	}
	return text.Colors{c}.Sprint(s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RenderConsole renders rpt to writer using the default console formatter.
func RenderConsole(rpt *report.Report, w io.Writer) error {
	return NewConsoleFormatter().Render(rpt, w)
}
