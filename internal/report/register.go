// Package report renders permit listings as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"safeworks.org/ptw/internal/permit"
)

// SheetName is the worksheet holding the permit register.
const SheetName = "Permits"

// ContentType is the media type of Register output.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timeLayout = "2006-01-02 15:04"

var columns = []struct {
	title string
	width float64
	value func(p permit.Permit) any
}{
	{"Serial", 24, func(p permit.Permit) any { return p.Serial }},
	{"Type", 16, func(p permit.Permit) any { return string(p.Type) }},
	{"Status", 20, func(p permit.Permit) any { return string(p.Status) }},
	{"Site", 8, func(p permit.Permit) any { return p.SiteID }},
	{"Location", 24, func(p permit.Permit) any { return p.Location }},
	{"Description", 40, func(p permit.Permit) any { return p.Description }},
	{"Start", 18, func(p permit.Permit) any { return stamp(p.StartTime) }},
	{"End", 18, func(p permit.Permit) any { return stamp(p.EndTime) }},
	{"Hours", 8, func(p permit.Permit) any { return p.DurationHours() }},
	{"Receiver", 20, func(p permit.Permit) any { return p.ReceiverName }},
	{"Created By", 10, func(p permit.Permit) any { return p.CreatedBy }},
	{"Created At", 18, func(p permit.Permit) any { return stamp(p.CreatedAt) }},
	{"Rejection Reason", 30, func(p permit.Permit) any { return p.RejectionReason }},
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// Register writes one row per permit under a bold, filterable header row.
func Register(w io.Writer, permits []permit.Permit) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, col.title); err != nil {
			return err
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, col.width); err != nil {
			return err
		}
	}
	if err := f.SetRowStyle(SheetName, 1, 1, header); err != nil {
		return err
	}

	for r, p := range permits {
		for c, col := range columns {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(SheetName, cell, col.value(p)); err != nil {
				return fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}

	last, err := excelize.CoordinatesToCellName(len(columns), len(permits)+1)
	if err != nil {
		return err
	}
	if err := f.AutoFilter(SheetName, "A1:"+last, nil); err != nil {
		return fmt.Errorf("auto filter: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
