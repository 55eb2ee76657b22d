package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/b4its/next-kepin/internal/format"
	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/session"
)

// maxBreakdownRows is how many "other financial data" rows are shown
// unless --all is set.
const maxBreakdownRows = 3

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtleStyle).
		Headers(headers...)
}

// renderResult formats one analysis result: header, totals and breakdown.
func renderResult(r *models.AnalysisResult, all bool) string {
	var b strings.Builder

	name := r.EntityName
	if name == "" {
		name = "(unnamed entity)"
	}
	b.WriteString(TitleStyle.Render(name) + "\n")
	for _, kv := range [][2]string{
		{"Periode", r.Period},
		{"Mata uang", r.Currency},
		{"Satuan", r.Unit},
		{"Jenis analisa", r.AnalysisType},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "%s %s\n", SubtleStyle.Render(kv[0]+":"), kv[1])
		}
	}

	totals := newTable("Pos", "Nilai").StyleFunc(amountColumn(1))
	totals.Row("Total Aset", format.Currency(r.TotalAssets))
	totals.Row("Total Liabilitas", format.Currency(r.TotalLiabilities))
	totals.Row("Total Ekuitas", format.Currency(r.TotalEquity))
	totals.Row("Laba Bersih", format.Currency(r.NetIncome))
	b.WriteString(totals.String() + "\n")

	if len(r.LineItems) == 0 {
		return b.String()
	}
	items := r.LineItems
	hidden := 0
	if !all && len(items) > maxBreakdownRows {
		hidden = len(items) - maxBreakdownRows
		items = items[:maxBreakdownRows]
	}
	breakdown := newTable("Keterangan", "Nilai").StyleFunc(amountColumn(1))
	for _, it := range items {
		breakdown.Row(it.Description, format.Currency(it.Value))
	}
	b.WriteString(breakdown.String() + "\n")
	if hidden > 0 {
		b.WriteString(SubtleStyle.Render(fmt.Sprintf("... %d more rows, use --all to show them", hidden)) + "\n")
	}
	return b.String()
}

// renderUploads lists uploads with their analysis status from ctrl.
func renderUploads(uploads []models.UploadRecord, ctrl *session.Controller) string {
	t := newTable("ID", "File", "Status", "Entitas", "Total Aset").StyleFunc(amountColumn(4))
	for _, u := range uploads {
		id := u.ID.String()
		st := ctrl.Status(id)
		status, entity, assets := "pending", "", ""
		switch {
		case !u.Analyzable():
			status = "not analyzable"
		case st.State != session.StateIdle:
			status = string(st.State)
		case st.Result != nil:
			status = "analyzed"
			entity = st.Result.EntityName
			assets = format.Currency(st.Result.TotalAssets)
		}
		t.Row(id, u.FileName, status, entity, assets)
	}
	return t.String()
}

func renderStats(s *models.Stats) string {
	t := newTable("Total", "Analyzed", "Pending").StyleFunc(amountColumn(-1))
	t.Row(fmt.Sprint(s.Total), fmt.Sprint(s.Analyzed), fmt.Sprint(s.Pending))
	return t.String()
}

func amountColumn(col int) table.StyleFunc {
	return func(row, c int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return TableHeaderStyle
		case c == col:
			return AmountCellStyle
		default:
			return TableCellStyle
		}
	}
}
