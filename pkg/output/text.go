package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// TextWriter prints runs the way an operator reads them:
//
//	Planned moves: 1
//	  Q123456-Alpha  ->  Q123000-Q123999
//	Moved: Q123456-Alpha -> Q123000-Q123999
//	Done. Moved 1 folders.
//
// With tables enabled, the plan and bucket listings are rendered as
// bordered tables instead of indented lines.
type TextWriter struct {
	w      io.Writer
	tables bool
	mu     sync.Mutex
	closed bool
}

// NewTextWriter creates a text writer. Tables are typically enabled only
// when w is a terminal (see IsTerminal).
func NewTextWriter(w io.Writer, tables bool) *TextWriter {
	return &TextWriter{w: w, tables: tables}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// WritePlan prints the planned moves, or "No moves needed." when there are
// none.
func (tw *TextWriter) WritePlan(ctx context.Context, plan *PlanRecord) error {
	var b strings.Builder
	if len(plan.Moves) == 0 {
		b.WriteString("No moves needed.\n")
		return tw.write(ctx, b.String())
	}

	fmt.Fprintf(&b, "Planned moves: %d\n", len(plan.Moves))
	if tw.tables {
		rows := make([][]string, 0, len(plan.Moves))
		for i, mv := range plan.Moves {
			bucket := mv.Bucket
			if mv.BucketPending {
				bucket += " (new)"
			}
			rows = append(rows, []string{strconv.Itoa(i + 1), mv.Name, bucket})
		}
		b.WriteString(renderTable([]string{"#", "Folder", "Bucket"}, rows, []text.Align{text.AlignRight}))
		b.WriteString("\n")
	} else {
		for _, mv := range plan.Moves {
			fmt.Fprintf(&b, "  %s  ->  %s\n", mv.Name, mv.Bucket)
		}
	}
	return tw.write(ctx, b.String())
}

// WriteMove prints an applied move. Planned moves are printed by WritePlan.
func (tw *TextWriter) WriteMove(ctx context.Context, move *MoveRecord) error {
	if move.Status != StatusMoved {
		return nil
	}
	return tw.write(ctx, fmt.Sprintf("Moved: %s -> %s\n", move.Name, move.Bucket))
}

// WriteBuckets prints the bucket listing.
func (tw *TextWriter) WriteBuckets(ctx context.Context, buckets []BucketRecord) error {
	if len(buckets) == 0 {
		return tw.write(ctx, "No bucket folders found.\n")
	}
	var b strings.Builder
	if tw.tables {
		rows := make([][]string, 0, len(buckets))
		for _, bk := range buckets {
			rows = append(rows, []string{bk.Name, bk.ID})
		}
		b.WriteString(renderTable([]string{"Bucket", "ID"}, rows, nil))
		b.WriteString("\n")
	} else {
		for _, bk := range buckets {
			fmt.Fprintf(&b, "%s\t%s\n", bk.Name, bk.ID)
		}
	}
	return tw.write(ctx, b.String())
}

// WritePreflight prints nothing for passing checks and one line per
// denied capability.
func (tw *TextWriter) WritePreflight(ctx context.Context, rec *PreflightRecord) error {
	var b strings.Builder
	for _, r := range rec.Results {
		if !r.Allowed {
			fmt.Fprintf(&b, "Preflight: %s denied (%s)\n", r.Capability, r.ErrorCode)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return tw.write(ctx, b.String())
}

// WriteError is a no-op; errors reach the terminal through the logger.
func (tw *TextWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return nil
}

// WriteSummary prints the closing line of a run with a non-empty plan.
func (tw *TextWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	switch {
	case sum.Planned == 0:
		return nil
	case sum.DryRun:
		return tw.write(ctx, "Dry-run: no changes made.\n")
	case sum.Errors > 0:
		return tw.write(ctx, fmt.Sprintf("Stopped. Moved %d of %d folders.\n", sum.Moved, sum.Planned))
	}
	return tw.write(ctx, fmt.Sprintf("Done. Moved %d folders.\n", sum.Moved))
}

// Close marks the writer as closed.
func (tw *TextWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.closed = true
	return nil
}

func (tw *TextWriter) write(ctx context.Context, s string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return ErrWriterClosed
	}
	if err := writeAll(tw.w, []byte(s)); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	columns := len(headers)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	t.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		t.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) {
			align = aligns[i]
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	t.SetColumnConfigs(configs)

	return t.Render()
}

var _ Writer = (*TextWriter)(nil)
