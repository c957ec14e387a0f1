package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"boutique/backend/internal/domain"
)

const (
	SummarySheet    = "Statistiques"
	PerProductSheet = "Ventes par produit"
	StockSheet      = "Stock"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// FileName is the attachment name used for a stats export over [start, end].
func FileName(start string, end string) string {
	return fmt.Sprintf("statistiques_%s_%s.xlsx", start, end)
}

// StatsWorkbook lays out a statistics window and the current stock view as a
// three sheet workbook. The caller owns the returned file and must Close it.
func StatsWorkbook(stats domain.SalesStats, stock []domain.StockLevel) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	summary := [][]any{
		{"Début", stats.StartDate},
		{"Fin", stats.EndDate},
		{"Chiffre d'affaires", stats.TotalRevenue.InexactFloat64()},
		{"Transactions", stats.TransactionCount},
	}
	if err := writeRows(f, SummarySheet, summary, 1); err != nil {
		_ = f.Close()
		return nil, err
	}
	_ = f.SetCellStyle(SummarySheet, "A1", "A4", headerStyle)
	_ = f.SetColWidth(SummarySheet, "A", "B", 22)

	if _, err := f.NewSheet(PerProductSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	rows := [][]any{{"Référence", "Produit", "Quantité vendue", "Chiffre d'affaires"}}
	for _, p := range stats.PerProduct {
		rows = append(rows, []any{p.Reference, p.Name, p.QuantitySold, p.Revenue.InexactFloat64()})
	}
	if err := writeRows(f, PerProductSheet, rows, 1); err != nil {
		_ = f.Close()
		return nil, err
	}
	_ = f.SetCellStyle(PerProductSheet, "A1", "D1", headerStyle)
	_ = f.SetColWidth(PerProductSheet, "A", "D", 20)

	if _, err := f.NewSheet(StockSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	rows = [][]any{{"Référence", "Produit", "Catégorie", "Reçu", "Vendu", "Stock", "Seuil", "Statut"}}
	for _, level := range stock {
		rows = append(rows, []any{
			level.Reference,
			level.Name,
			level.Category,
			level.TotalReceived,
			level.TotalSold,
			level.CurrentStock,
			level.ReorderThreshold,
			level.Status,
		})
	}
	if err := writeRows(f, StockSheet, rows, 1); err != nil {
		_ = f.Close()
		return nil, err
	}
	_ = f.SetCellStyle(StockSheet, "A1", "H1", headerStyle)
	_ = f.SetColWidth(StockSheet, "A", "H", 16)

	f.SetActiveSheet(0)
	return f, nil
}

// WriteStats renders the workbook straight to w.
func WriteStats(w io.Writer, stats domain.SalesStats, stock []domain.StockLevel) error {
	f, err := StatsWorkbook(stats, stock)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]any, firstRow int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, firstRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, firstRow+i, err)
		}
	}
	return nil
}
