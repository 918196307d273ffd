package reports

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const costChangesSheet = "Cost changes"

var costChangeHeaders = []string{"Date", "Type", "ID", "Name", "Before", "After", "Change %"}

// WriteCostChangesXLSX writes rows as a single-sheet workbook.
func WriteCostChangesXLSX(w io.Writer, rows []CostChange) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", costChangesSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	if err := f.SetSheetRow(costChangesSheet, "A1", &costChangeHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		delta := ""
		if row.DeltaPercent.Valid {
			delta = row.DeltaPercent.Decimal.StringFixed(2)
		}
		values := []any{
			row.At.Format("2006-01-02 15:04"),
			row.EntityType,
			row.EntityID,
			row.Name,
			row.Before.InexactFloat64(),
			row.After.InexactFloat64(),
			delta,
		}
		if err := f.SetSheetRow(costChangesSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(costChangesSheet, "A", "A", 18); err != nil {
		return err
	}
	if err := f.SetColWidth(costChangesSheet, "D", "D", 32); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
