// Package export renders amortization statements from a reconciled view.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

// Format identifies a statement output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a format string from the API surface.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported statement format %q", agreement.ErrValidation, s)
	}
}

// ContentType returns the HTTP content type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/pdf"
}

var scheduleColumns = []string{"Month", "Due Date", "Amount", "State", "Transaction Ref"}

// Statement renders the view in the requested format.
func Statement(view agreement.ReconciledView, format Format) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return StatementXLSX(view)
	default:
		return StatementPDF(view)
	}
}

// StatementPDF renders an amortization statement as a PDF document.
func StatementPDF(view agreement.ReconciledView) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Credit Agreement Statement")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	summary := [][2]string{
		{"Reference", view.Reference},
		{"Status", view.EffectiveStatus.String()},
		{"Principal", fmt.Sprintf("%.2f", view.Terms.Principal)},
		{"Annual rate", fmt.Sprintf("%.2f%%", view.Terms.AnnualRatePercent)},
		{"Duration", fmt.Sprintf("%d months", view.Terms.DurationMonths)},
		{"Monthly payment", fmt.Sprintf("%.6f", view.MonthlyPayment)},
		{"Total repayment", fmt.Sprintf("%.6f", view.TotalRepayment)},
		{"Total interest", fmt.Sprintf("%.6f", view.TotalInterest)},
		{"Progress", fmt.Sprintf("%.1f%%", view.ProgressPercent)},
	}
	if view.Stale {
		summary = append(summary, [2]string{"Data freshness", "STALE - ledger unreachable"})
	}
	for _, row := range summary {
		pdf.CellFormat(45, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	// Schedule table.
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 10)
	widths := []float64{20, 35, 35, 25, 65}
	for i, col := range scheduleColumns {
		pdf.CellFormat(widths[i], 7, col, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 9)
	fill := false
	pdf.SetFillColor(242, 242, 242)
	for _, p := range view.Schedule {
		pdf.CellFormat(widths[0], 6, fmt.Sprintf("%d", p.Month), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(widths[1], 6, p.DueDate.Format("2006-01-02"), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%.6f", p.Amount), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(widths[3], 6, string(p.State), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(widths[4], 6, p.ExternalRef, "1", 1, "L", fill, 0, "")
		fill = !fill
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "I", 8)
	pdf.Cell(0, 5, fmt.Sprintf("Generated %s", time.Now().UTC().Format(time.RFC3339)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render statement pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// StatementXLSX renders an amortization statement as a spreadsheet.
func StatementXLSX(view agreement.ReconciledView) ([]byte, error) {
	file := excelize.NewFile()
	sheet := "Statement"
	file.SetSheetName("Sheet1", sheet)

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := [][]any{
		{"Reference", view.Reference},
		{"Status", view.EffectiveStatus.String()},
		{"Principal", view.Terms.Principal},
		{"Annual rate %", view.Terms.AnnualRatePercent},
		{"Duration months", view.Terms.DurationMonths},
		{"Monthly payment", view.MonthlyPayment},
		{"Total repayment", view.TotalRepayment},
		{"Total interest", view.TotalInterest},
		{"Progress %", view.ProgressPercent},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	headerRow := len(rows) + 2
	cell, _ := excelize.CoordinatesToCellName(1, headerRow)
	header := make([]any, len(scheduleColumns))
	for i, col := range scheduleColumns {
		header[i] = col
	}
	if err := file.SetSheetRow(sheet, cell, &header); err != nil {
		return nil, fmt.Errorf("failed to write schedule header: %w", err)
	}
	endCell, _ := excelize.CoordinatesToCellName(len(scheduleColumns), headerRow)
	if err := file.SetCellStyle(sheet, cell, endCell, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style schedule header: %w", err)
	}

	for i, p := range view.Schedule {
		rowCell, _ := excelize.CoordinatesToCellName(1, headerRow+1+i)
		row := []any{p.Month, p.DueDate.Format("2006-01-02"), p.Amount, string(p.State), p.ExternalRef}
		if err := file.SetSheetRow(sheet, rowCell, &row); err != nil {
			return nil, fmt.Errorf("failed to write schedule row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render statement xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
