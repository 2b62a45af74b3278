package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/buildrite/sitedash/pkg/payflow"
)

// ReportHandler exports the portfolio budget roll-up for owner meetings.
type ReportHandler struct {
	rollup *payflow.BudgetRollupService
}

func NewReportHandler(rollup *payflow.BudgetRollupService) *ReportHandler {
	return &ReportHandler{rollup: rollup}
}

// ExportBudgetExcel streams the roll-up as a styled xlsx download.
func (h *ReportHandler) ExportBudgetExcel(w http.ResponseWriter, r *http.Request) {
	result, err := h.rollup.Portfolio()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	excelFile, err := createBudgetWorkbook(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate Excel file")
		return
	}

	buffer, err := excelFile.WriteToBuffer()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to write Excel file")
		return
	}

	filename := fmt.Sprintf("%s_%s.xlsx", sanitizeFilename("Budget Rollup"), time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buffer.Len()))

	w.WriteHeader(http.StatusOK)
	w.Write(buffer.Bytes())
}

// ExportBudgetCSV streams the roll-up as a CSV download.
func (h *ReportHandler) ExportBudgetCSV(w http.ResponseWriter, r *http.Request) {
	result, err := h.rollup.Portfolio()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	csvData, err := createBudgetCSV(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate CSV file")
		return
	}

	filename := fmt.Sprintf("%s_%s.csv", sanitizeFilename("Budget Rollup"), time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(csvData)))

	w.WriteHeader(http.StatusOK)
	w.Write(csvData)
}

var budgetReportColumns = []string{"Project", "Budget", "Spent", "Remaining", "Utilization %", "Over Budget"}

// createBudgetWorkbook generates the xlsx workbook for a portfolio roll-up.
func createBudgetWorkbook(result *payflow.PortfolioRollup) (*excelize.File, error) {
	f := excelize.NewFile()
	sheetName := "Budget Rollup"

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 16,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "center",
		},
	})
	f.SetCellValue(sheetName, "A1", "Portfolio Budget Rollup")
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	f.SetRowHeight(sheetName, 1, 30)

	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04:05")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#4472C4"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for colIdx, header := range budgetReportColumns {
		cell, _ := excelize.CoordinatesToCellName(colIdx+1, 4)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
		f.SetColWidth(sheetName, columnIndexToLetter(colIdx+1), columnIndexToLetter(colIdx+1), 20)
	}

	dataStyle, _ := f.NewStyle(&excelize.Style{
		Border: []excelize.Border{
			{Type: "left", Color: "CCCCCC", Style: 1},
			{Type: "right", Color: "CCCCCC", Style: 1},
			{Type: "top", Color: "CCCCCC", Style: 1},
			{Type: "bottom", Color: "CCCCCC", Style: 1},
		},
	})

	for rowIdx, p := range result.Projects {
		values := []interface{}{p.ProjectName, p.Budget, p.Spent, p.Remaining, p.Utilization, p.OverBudget}
		for colIdx, value := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+5)
			f.SetCellValue(sheetName, cell, value)
			f.SetCellStyle(sheetName, cell, cell, dataStyle)
		}
	}

	summaryRow := len(result.Projects) + 7
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E7E6E6"},
			Pattern: 1,
		},
	})

	cell, _ := excelize.CoordinatesToCellName(1, summaryRow)
	f.SetCellValue(sheetName, cell, "Portfolio Totals")
	f.SetCellStyle(sheetName, cell, cell, summaryStyle)

	totals := [][2]interface{}{
		{"Budget", result.Budget},
		{"Spent", result.Spent},
		{"Remaining", result.Remaining},
		{"Utilization %", result.Utilization},
	}
	for i, kv := range totals {
		keyCell, _ := excelize.CoordinatesToCellName(1, summaryRow+1+i)
		valueCell, _ := excelize.CoordinatesToCellName(2, summaryRow+1+i)
		f.SetCellValue(sheetName, keyCell, kv[0])
		f.SetCellValue(sheetName, valueCell, kv[1])
	}

	// Delete default Sheet1 if we created a new one
	f.DeleteSheet("Sheet1")

	return f, nil
}

// createBudgetCSV generates the CSV rendition of a portfolio roll-up.
func createBudgetCSV(result *payflow.PortfolioRollup) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	writer.Write(budgetReportColumns)

	for _, p := range result.Projects {
		writer.Write([]string{
			p.ProjectName,
			fmt.Sprintf("%.2f", p.Budget),
			fmt.Sprintf("%.2f", p.Spent),
			fmt.Sprintf("%.2f", p.Remaining),
			fmt.Sprintf("%.1f", p.Utilization),
			fmt.Sprintf("%v", p.OverBudget),
		})
	}

	writer.Write([]string{}) // Empty row
	writer.Write([]string{"Portfolio Totals"})
	writer.Write([]string{"Budget", fmt.Sprintf("%.2f", result.Budget)})
	writer.Write([]string{"Spent", fmt.Sprintf("%.2f", result.Spent)})
	writer.Write([]string{"Remaining", fmt.Sprintf("%.2f", result.Remaining)})
	writer.Write([]string{"Utilization %", fmt.Sprintf("%.1f", result.Utilization)})

	writer.Flush()
	return buf.Bytes(), writer.Error()
}

// Helper functions

func sanitizeFilename(filename string) string {
	// Remove or replace characters that are invalid in filenames
	replacements := map[rune]rune{
		'/':  '_',
		'\\': '_',
		':':  '_',
		'*':  '_',
		'?':  '_',
		'"':  '_',
		'<':  '_',
		'>':  '_',
		'|':  '_',
		' ':  '_',
	}

	result := []rune{}
	for _, char := range filename {
		if replacement, exists := replacements[char]; exists {
			result = append(result, replacement)
		} else {
			result = append(result, char)
		}
	}

	return string(result)
}

func columnIndexToLetter(col int) string {
	result := ""
	for col > 0 {
		col--
		result = string(rune('A'+(col%26))) + result
		col /= 26
	}
	return result
}
