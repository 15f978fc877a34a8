package report

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"labflow/internal/domain"
)

// ResultInput carries everything printed on a test report.
type ResultInput struct {
	Result      domain.TestResult
	Request     domain.TestRequest
	Site        domain.Site
	PerformedBy string
	Version     int
	GeneratedAt string
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
}

func newBook(sheet string) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)
	return f, nil
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func finish(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildResult renders a single test result as an XLSX workbook.
func BuildResult(in ResultInput) ([]byte, error) {
	const sheet = "Report"
	f, err := newBook(sheet)
	if err != nil {
		return nil, err
	}
	style, err := headerStyle(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	siteCode := ""
	if in.Site.Code != nil {
		siteCode = *in.Site.Code
	}
	finishedAt := ""
	if in.Result.FinishedAt != nil {
		finishedAt = *in.Result.FinishedAt
	}
	rows := [][2]any{
		{"Request", in.Request.Code},
		{"Test type", string(in.Result.Kind)},
		{"Site", in.Site.Name},
		{"Site code", siteCode},
		{"Location", in.Site.Location},
		{"Client", in.Site.Client},
		{"Performed by", in.PerformedBy},
		{"Status", in.Result.Status},
		{"Verdict", in.Result.Verdict},
		{"Finished at", finishedAt},
		{"Report version", in.Version},
		{"Generated at", in.GeneratedAt},
	}

	row := 1
	for _, r := range rows {
		if err := setCell(f, sheet, 1, row, r[0]); err != nil {
			f.Close()
			return nil, err
		}
		if err := setCell(f, sheet, 2, row, r[1]); err != nil {
			f.Close()
			return nil, err
		}
		row++
	}

	row++
	for col, h := range []string{"Measurement", "Value"} {
		if err := setCell(f, sheet, col+1, row, h); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row), style); err != nil {
		f.Close()
		return nil, fmt.Errorf("set header style: %w", err)
	}
	row++
	for _, m := range in.Result.Measurements.Rows() {
		if err := setCell(f, sheet, 1, row, m[0]); err != nil {
			f.Close()
			return nil, err
		}
		if err := setCell(f, sheet, 2, row, m[1]); err != nil {
			f.Close()
			return nil, err
		}
		row++
	}

	if in.Result.Observations != "" {
		row++
		if err := setCell(f, sheet, 1, row, "Observations"); err != nil {
			f.Close()
			return nil, err
		}
		if err := setCell(f, sheet, 2, row, in.Result.Observations); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 30); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetColWidth(sheet, "B", "B", 40); err != nil {
		f.Close()
		return nil, err
	}
	return finish(f)
}

var inventoryHeaders = []string{"Asset code", "Name", "Category", "Status", "Brand", "Model", "Serial number", "Location", "Site", "Next maintenance"}

// BuildInventory renders the equipment list as an XLSX workbook.
func BuildInventory(items []domain.Equipment, siteNames map[string]string) ([]byte, error) {
	const sheet = "Inventory"
	f, err := newBook(sheet)
	if err != nil {
		return nil, err
	}
	style, err := headerStyle(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	for col, h := range inventoryHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			f.Close()
			return nil, err
		}
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(sheet, name, name, 18); err != nil {
			f.Close()
			return nil, err
		}
	}
	for i, e := range items {
		site := "depot"
		if e.SiteID != nil {
			site = *e.SiteID
			if n, ok := siteNames[*e.SiteID]; ok {
				site = n
			}
		}
		next := ""
		if e.NextMaintenance != nil {
			next = *e.NextMaintenance
		}
		values := []any{e.AssetCode, e.Name, e.Category, e.Status, e.Brand, e.Model, e.SerialNumber, e.Location, site, next}
		for col, v := range values {
			if err := setCell(f, sheet, col+1, i+2, v); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze panes: %w", err)
	}
	return finish(f)
}

// Store keeps generated reports on disk as <dir>/<result id>/v<version>.xlsx.
type Store struct {
	Dir string
}

func (s Store) Save(resultID string, version int, data []byte) (string, error) {
	dir := filepath.Join(s.Dir, resultID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("v%d.xlsx", version))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s Store) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes a stored report; a missing file is not an error.
func (s Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
