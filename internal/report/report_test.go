package report

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"labflow/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestBuildResult(t *testing.T) {
	m := domain.Measurements{Kind: domain.Soil, Soil: &domain.SoilMeasurements{LiquidLimit: f64(40), PlasticLimit: f64(25)}}
	m.Normalize()
	data, err := BuildResult(ResultInput{
		Result: domain.TestResult{
			ID: "r1", Kind: domain.Soil, Measurements: m, Status: domain.ResultFinished, Verdict: "approved",
			Observations: "sample taken at km 12",
		},
		Request:     domain.TestRequest{Code: "SOL-202403-0001"},
		Site:        domain.Site{Name: "Ruta 5", Location: "Km 12"},
		PerformedBy: "Lab Tech",
		Version:     2,
		GeneratedAt: "2024-03-01T10:00:00Z",
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Report"}, f.GetSheetList())
	v, err := f.GetCellValue("Report", "B1")
	require.NoError(t, err)
	assert.Equal(t, "SOL-202403-0001", v)

	rows, err := f.GetRows("Report")
	require.NoError(t, err)
	var pi string
	for _, r := range rows {
		if len(r) >= 2 && r[0] == "Plasticity index" {
			pi = r[1]
		}
	}
	assert.Equal(t, "15", pi)
}

func TestBuildInventory(t *testing.T) {
	site := "s1"
	data, err := BuildInventory([]domain.Equipment{
		{AssetCode: "EQ-001", Name: "Oven", Category: "laboratory", Status: domain.EquipmentOperational},
		{AssetCode: "EQ-002", Name: "Truck", Category: "vehicle", Status: domain.EquipmentOperational, SiteID: &site},
	}, map[string]string{"s1": "Ruta 5"})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Inventory")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Asset code", rows[0][0])
	assert.Equal(t, "depot", rows[1][8])
	assert.Equal(t, "Ruta 5", rows[2][8])
}

func TestStoreSaveRead(t *testing.T) {
	s := Store{Dir: t.TempDir()}
	path, err := s.Save("r1", 3, []byte("xlsx"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir, "r1", "v3.xlsx"), path)
	data, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", string(data))

	require.NoError(t, s.Remove(path))
	assert.NoFileExists(t, path)
	require.NoError(t, s.Remove(path))
}
