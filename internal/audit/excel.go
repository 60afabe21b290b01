// Package audit exports the store as a spreadsheet for the back-office.
package audit

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

var errNoSheet = errors.New("no active sheet")

// Workbook writes tables into sheets of one XLSX file.
type Workbook struct {
	file        *excelize.File
	sheet       string
	row         int
	headerStyle int
}

func NewWorkbook() *Workbook {
	return &Workbook{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The default sheet is reused for the first one.
func (w *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.sheet = name
	w.row = 1
	return nil
}

// WriteHeader writes bold column names on the current row.
func (w *Workbook) WriteHeader(columns []string) error {
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := w.WriteRow(values); err != nil {
		return err
	}

	if w.headerStyle == 0 {
		style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return nil
		}
		w.headerStyle = style
	}
	start, _ := excelize.CoordinatesToCellName(1, w.row-1)
	end, _ := excelize.CoordinatesToCellName(max(len(columns), 1), w.row-1)
	_ = w.file.SetCellStyle(w.sheet, start, end, w.headerStyle)
	return nil
}

// WriteRow writes values on the current row and advances.
func (w *Workbook) WriteRow(values []any) error {
	if w.sheet == "" {
		return errNoSheet
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

// WriteTo serializes the workbook.
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	return w.file.WriteTo(out)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}
