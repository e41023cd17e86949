package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the exported workbook.
const (
	SheetSummary = "Resumo"
	SheetCredits = "Creditos"
	SheetDebits  = "Debitos"
)

// ExportXLSX writes the summary and the credit and debit tables as a workbook.
func (l *Ledger) ExportXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	if err := l.writeSummarySheet(f, headerStyle, amountStyle); err != nil {
		return err
	}
	for _, sheet := range []struct {
		name string
		txs  []Transaction
	}{
		{SheetCredits, l.Credits()},
		{SheetDebits, l.Debits()},
	} {
		if _, err := f.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet.name, err)
		}
		if err := writeTransactionSheet(f, sheet.name, sheet.txs, headerStyle, amountStyle); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (l *Ledger) writeSummarySheet(f *excelize.File, headerStyle, amountStyle int) error {
	s := l.Summary()

	rows := [][]interface{}{
		{"Indicador", "Valor", "Transações"},
		{"Total créditos", s.Credit.Total.ToFloat64(), s.Credit.Count},
		{"Total débitos", s.Debit.Total.ToFloat64(), s.Debit.Count},
		{"Saldo líquido", s.Net.ToFloat64(), s.Transactions},
		{"Origem mais frequente (crédito): " + s.Credit.TopOrigin, s.Credit.TopOriginTotal.ToFloat64(), s.Credit.TopOriginCount},
		{"Origem mais frequente (débito): " + s.Debit.TopOrigin, s.Debit.TopOriginTotal.ToFloat64(), s.Debit.TopOriginCount},
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	if err := f.SetCellStyle(SheetSummary, "A1", "C1", headerStyle); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "B2", fmt.Sprintf("B%d", len(rows)), amountStyle); err != nil {
		return err
	}
	return f.SetColWidth(SheetSummary, "A", "A", 45)
}

func writeTransactionSheet(f *excelize.File, sheet string, txs []Transaction, headerStyle, amountStyle int) error {
	headers := []interface{}{"Origem", "Valor", "Data", "Origem extraída", "Página"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	if err := f.SetCellStyle(sheet, "A1", "E1", headerStyle); err != nil {
		return err
	}

	for i, tx := range txs {
		row := []interface{}{tx.Origin, tx.Amount.ToFloat64(), tx.Date, tx.RawOrigin, tx.Page}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}

	if len(txs) > 0 {
		if err := f.SetCellStyle(sheet, "B2", fmt.Sprintf("B%d", len(txs)+1), amountStyle); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheet, "A", "A", 35); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "D", "D", 35)
}
