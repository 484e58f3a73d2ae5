// Package report renders bill-run statements for download.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/hearth/billing-engine/billing"
)

const sheetName = "Statement"

// WriteStatement renders one bill run's lines as an xlsx workbook:
// a header block, one row per charge, and a per-tenant totals block.
func WriteStatement(w io.Writer, run billing.BillRun, lines []billing.BillLine) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	f.SetCellValue(sheetName, "A1", fmt.Sprintf("Bill run %s", run.ID))
	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Property %s, month %s (%s)", run.PropertyID, run.Month, run.Status))

	headers := []string{"Tenant", "Charge", "Amount", "Method"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 4)
		f.SetCellValue(sheetName, cell, h)
	}

	totals := make(map[billing.TenantID]decimal.Decimal)
	row := 5
	for _, line := range lines {
		tenant := "house account"
		if line.TenantID != nil {
			tenant = string(*line.TenantID)
			totals[*line.TenantID] = totals[*line.TenantID].Add(line.Amount)
		}
		f.SetCellValue(sheetName, cell("A", row), tenant)
		f.SetCellValue(sheetName, cell("B", row), string(line.Utility))
		amount, _ := line.Amount.Float64()
		f.SetCellValue(sheetName, cell("C", row), amount)
		f.SetCellValue(sheetName, cell("D", row), line.Detail.DetailMethod())
		row++
	}

	row++
	f.SetCellValue(sheetName, cell("A", row), "Totals")
	row++

	tenants := make([]billing.TenantID, 0, len(totals))
	for id := range totals {
		tenants = append(tenants, id)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })

	for _, id := range tenants {
		f.SetCellValue(sheetName, cell("A", row), string(id))
		total, _ := totals[id].Float64()
		f.SetCellValue(sheetName, cell("C", row), total)
		row++
	}

	return f.Write(w)
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
