package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/workflow"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func pendingTable(entries []bid.PendingEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Identifier.String(),
			orDash(e.Hint(bid.HintName)),
			orDash(e.Hint(bid.HintDueDate)),
			formatTime(e.DiscoveredAt),
		})
	}
	return renderTable([]string{"Identifier", "Name", "Due", "Discovered"}, rows, nil)
}

func ledgerTable(records []bid.CompletionRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(r.Slot.Sequence),
			r.Slot.FolderName,
			r.Identifier.String(),
			r.Date,
			formatTime(r.CompletedAt),
		})
	}
	return renderTable(
		[]string{"#", "Folder", "Identifier", "Due", "Completed"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func renderSummary(w io.Writer, s workflow.Summary) {
	if len(s.Reconciled) > 0 {
		fmt.Fprintf(w, "Removed %d already-completed projects from the queue.\n", len(s.Reconciled))
	}
	if len(s.Results) > 0 {
		rows := make([][]string, 0, len(s.Results))
		for _, r := range s.Results {
			folder, detail := "", ""
			if !r.Slot.IsZero() {
				folder = r.Slot.FolderName
			}
			if r.Err != nil {
				detail = r.Err.Error()
			}
			rows = append(rows, []string{r.ID.String(), string(r.Outcome), folder, detail})
		}
		fmt.Fprintln(w, renderTable([]string{"Identifier", "Outcome", "Folder", "Error"}, rows, nil))
	}
	fmt.Fprintf(w, "Run %s: %d completed, %d failed, %d pending (%s).\n",
		s.RunID, s.Completed(), s.Failed(), s.Remaining, s.StopReason)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
