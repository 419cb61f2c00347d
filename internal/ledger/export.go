package ledger

import (
	"fmt"
	"io"

	"courtside/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var exportColumns = []string{
	"Booking", "Date", "Start", "End", "Listing", "Kind", "Location",
	"Category", "User", "Price", "Status", "Created",
}

var headerStyle = &excelize.Style{Font: &excelize.Font{Bold: true}}

// sheetWriter fills one worksheet row by row.
type sheetWriter struct {
	file        *excelize.File
	sheet       string
	row         int
	headerStyle *excelize.Style
}

func newSheetWriter(name string) *sheetWriter {
	// Excel caps sheet names at 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}
	f := excelize.NewFile()
	_ = f.SetSheetName("Sheet1", name)
	return &sheetWriter{file: f, sheet: name, row: 1, headerStyle: headerStyle}
}

func (w *sheetWriter) writeHeader(columns []string) error {
	cells := make([]any, len(columns))
	for i, c := range columns {
		cells[i] = c
	}
	if err := w.writeRow(cells); err != nil {
		return err
	}

	style, err := w.file.NewStyle(w.headerStyle)
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(w.sheet, "A1", last, style); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	return nil
}

func (w *sheetWriter) writeRow(values []any) error {
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

// ExportXLSX writes bookings as a single-sheet workbook.
func ExportXLSX(out io.Writer, bookings []models.Booking) error {
	w := newSheetWriter(sheetName)
	defer w.file.Close()

	if err := w.writeHeader(exportColumns); err != nil {
		return err
	}
	for _, b := range bookings {
		label := b.Category
		if b.ListingKind == models.ListingTrainer {
			label = b.Specialization
		}
		if err := w.writeRow([]any{
			b.ID, b.Date, b.StartTime, b.EndTime, b.ListingName, string(b.ListingKind), b.Location,
			label, b.UserID, b.Price, string(b.Status), b.CreatedAt.Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}

	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
