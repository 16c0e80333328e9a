package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"reportlens/internal/catalog"
	"reportlens/internal/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	metaStyle   = lipgloss.NewStyle().Faint(true)
	askStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tableStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// renderPayload produces the terminal view of a turn result: a bordered
// table for report payloads, highlighted question text for clarifications.
func renderPayload(p *types.Payload) string {
	if p == nil {
		return ""
	}
	if p.IsTable() {
		var b strings.Builder
		b.WriteString(tableStyle.Render(renderTable(p.Table)))
		meta := fmt.Sprintf("%d rows", p.RowCount())
		if p.CapabilityName != "" {
			meta += " | " + p.CapabilityName
		}
		if p.ScaledUnit != "" {
			meta += " | scaled to " + p.ScaledUnit
		}
		b.WriteString("\n" + metaStyle.Render(meta))
		return b.String()
	}
	if p.Pending != nil {
		return askStyle.Render(p.Text)
	}
	return p.Text
}

func renderTable(t *types.Table) string {
	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = len(c)
	}
	cells := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		cells[r] = make([]string, len(t.Columns))
		for c := range t.Columns {
			v := ""
			if c < len(row) {
				v = fmt.Sprint(row[c])
			}
			cells[r][c] = v
			if len(v) > widths[c] {
				widths[c] = len(v)
			}
		}
	}

	var b strings.Builder
	for i, c := range t.Columns {
		b.WriteString(headerStyle.Render(cellStyle.Render(pad(c, widths[i]))))
	}
	for _, row := range cells {
		b.WriteString("\n")
		for i, v := range row {
			b.WriteString(cellStyle.Render(pad(v, widths[i])))
		}
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func renderCatalogSummary(idx *catalog.Index) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Capability Catalog") + "\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", idx.GeneratedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("Rows: %d total, %d fresh, %d high confidence, %d with known requirements\n",
		idx.Summary.TotalRows, idx.Summary.FreshRows, idx.Summary.HighConfidence, idx.Summary.KnownRequirements))
	if len(idx.Summary.InvalidRows) > 0 {
		b.WriteString(metaStyle.Render(fmt.Sprintf("Invalid rows dropped: %v\n", idx.Summary.InvalidRows)))
	}
	for i := range idx.Rows {
		row := &idx.Rows[i]
		b.WriteString(fmt.Sprintf("  %s  %s\n", pad(row.Name, 36),
			metaStyle.Render(fmt.Sprintf("%s/%s conf=%.2f", row.Family, row.Type, row.Confidence))))
	}
	return strings.TrimRight(b.String(), "\n")
}
