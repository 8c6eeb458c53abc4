package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// WriteXLSX writes one sheet per table into a workbook at path. Numeric
// cells are stored as numbers so they stay sortable in a spreadsheet.
func WriteXLSX(path string, run Run) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to close workbook")
		}
	}()

	tables := []Table{
		MetricRows(run.Metrics),
		EquityRows(run.Result.EquityCurve),
		TradeRows(run.Result.Trades),
		ExecutionRows(run.Result.ExecutionLog),
	}
	if run.Comparison != nil {
		tables = append(tables, ComparisonRows(run.Comparison.Rows))
	}

	for i, t := range tables {
		if err := writeSheet(f, t); err != nil {
			return err
		}
		if i == 0 {
			idx, err := f.GetSheetIndex(t.Name)
			if err != nil {
				return fmt.Errorf("sheet index: %w", err)
			}
			f.SetActiveSheet(idx)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("remove default sheet: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, t Table) error {
	if _, err := f.NewSheet(t.Name); err != nil {
		return fmt.Errorf("create sheet %s: %w", t.Name, err)
	}
	for c, h := range t.Header {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellValue(t.Name, cell, h); err != nil {
			return err
		}
	}
	for r, row := range t.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(t.Name, cell, cellValue(v)); err != nil {
				return err
			}
		}
	}

	last, _ := excelize.ColumnNumberToName(len(t.Header))
	return f.SetColWidth(t.Name, "A", last, 16)
}

// cellValue keeps markers and text as strings and everything else numeric
func cellValue(s string) interface{} {
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}
