// Package report renders persisted closings as spreadsheets.
package report

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"financeiro/backend/internal/domain"
)

const (
	summarySheet = "Closing"
	itemsSheet   = "Revenue groups"
)

var ErrNoSnapshot = errors.New("closing has no audit snapshot")

// ClosingWorkbook returns an XLSX file with the closing totals on the first
// sheet and the snapshot's revenue groups on the second.
func ClosingWorkbook(record domain.ClosingRecord) ([]byte, error) {
	if record.Snapshot == nil {
		return nil, ErrNoSnapshot
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}

	rows := [][]any{
		{"Store", record.StoreID},
		{"Period", fmt.Sprintf("%02d/%d", record.Month, record.Year)},
		{"Status", string(record.Status)},
		{"Gross revenue", record.GrossRevenue.StringFixed(2)},
		{"Card fees", record.TotalFees.StringFixed(2)},
		{"Net revenue", record.NetRevenue.StringFixed(2)},
		{"Expenses", record.TotalExpenses.StringFixed(2)},
		{"Operating result", record.OperatingResult.StringFixed(2)},
		{"Processed at", record.Snapshot.ProcessedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for i, row := range rows {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}
	header := []any{"Payment type", "Brand", "Installments", "Gross amount", "Fee", "Fee rule", "Matched brand"}
	if err := setRow(f, itemsSheet, 1, header); err != nil {
		return nil, err
	}
	for i, item := range record.Snapshot.Items {
		matched := "missing"
		if item.FeeMatched {
			matched = "matched"
		}
		row := []any{string(item.PaymentType), item.Brand, item.Installments, item.GrossAmount, item.Fee, matched, item.MatchedBrand}
		if err := setRow(f, itemsSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(summarySheet, "A", "B", 20); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(itemsSheet, "A", "G", 16); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// FileName is the attachment name used for a closing export.
func FileName(record domain.ClosingRecord) string {
	return fmt.Sprintf("closing-%d-%04d-%02d.xlsx", record.StoreID, record.Year, record.Month)
}
