// Package export writes receipt selections as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/fisler/internal/core"
)

// SheetName is the single worksheet in an export.
const SheetName = "Fişler"

// ContentType is the XLSX media type.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type column struct {
	header string
	width  float64
}

var columns = []column{
	{"Fiş No", 12},
	{"Fiş Tarihi", 12},
	{"Oluşturulma Tarihi", 12},
	{"Toplam", 14},
	{"Ürün Sayısı", 12},
	{"Ürünler", 80},
}

const itemsColumn = 6

// Formatter builds export workbooks.
type Formatter struct {
	Location *time.Location
	Now      func() time.Time
}

// NewFormatter returns a formatter for Turkish local time.
func NewFormatter() *Formatter {
	return &Formatter{Location: TurkeyTime(), Now: time.Now}
}

// FileName embeds the generation time, e.g. fisler_export_20250103_142205.xlsx.
func (f *Formatter) FileName() string {
	return "fisler_export_" + f.now().In(f.loc()).Format("20060102_150405") + ".xlsx"
}

// Build lays out one row per record. An empty selection is
// core.ErrEmptySelection.
func (f *Formatter) Build(records []core.Fis) (*excelize.File, error) {
	if len(records) == 0 {
		return nil, core.ErrEmptySelection
	}

	x := excelize.NewFile()
	if err := x.SetSheetName("Sheet1", SheetName); err != nil {
		x.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, c := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := x.SetCellStr(SheetName, cell, c.header); err != nil {
			x.Close()
			return nil, err
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := x.SetColWidth(SheetName, name, name, c.width); err != nil {
			x.Close()
			return nil, err
		}
	}

	for i, r := range records {
		if err := f.writeRow(x, i+2, r); err != nil {
			x.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	wrap, err := x.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		x.Close()
		return nil, fmt.Errorf("wrap style: %w", err)
	}
	first, _ := excelize.CoordinatesToCellName(itemsColumn, 2)
	last, _ := excelize.CoordinatesToCellName(itemsColumn, len(records)+1)
	if err := x.SetCellStyle(SheetName, first, last, wrap); err != nil {
		x.Close()
		return nil, err
	}

	return x, nil
}

// Write builds the workbook and streams it to w.
func (f *Formatter) Write(w io.Writer, records []core.Fis) error {
	x, err := f.Build(records)
	if err != nil {
		return err
	}
	defer x.Close()
	if _, err := x.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func (f *Formatter) writeRow(x *excelize.File, row int, r core.Fis) error {
	tarih := ""
	if r.TarihSaat != nil {
		tarih = FormatDate(*r.TarihSaat, f.loc())
	}
	text := []string{
		r.FisNo,
		tarih,
		FormatDate(r.CreatedAt, f.loc()),
		FormatTRY(r.Total),
	}
	for i, v := range text {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := x.SetCellStr(SheetName, cell, v); err != nil {
			return err
		}
	}

	cell, _ := excelize.CoordinatesToCellName(5, row)
	if err := x.SetCellValue(SheetName, cell, len(r.Items)); err != nil {
		return err
	}
	cell, _ = excelize.CoordinatesToCellName(itemsColumn, row)
	return x.SetCellStr(SheetName, cell, ItemSummary(r.Items))
}

func (f *Formatter) loc() *time.Location {
	if f.Location == nil {
		return TurkeyTime()
	}
	return f.Location
}

func (f *Formatter) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}
