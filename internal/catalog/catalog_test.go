package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/CanopyHQ/tributary/internal/cag"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleEntries = []Entry{
	{Name: "Crop production yield", Source: "FAO", Unit: "tonnes/ha", Description: "cereal crop yield per hectare"},
	{Name: "NDVI", Source: "MODIS", Unit: "index", Description: "vegetation greenness for crop monitoring"},
	{Name: "Consumer price index", Source: "WDI", Unit: "%", Description: "inflation in market prices"},
	{Name: "Battle-related deaths", Source: "ACLED", Unit: "people", Description: "conflict fatalities"},
	{Name: "Average precipitation", Source: "CHIRPS", Unit: "mm", Description: "monthly rainfall"},
}

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := New(db, NewLocalEmbedder(), nil)
	require.NoError(t, err)
	_, err = c.Add(context.Background(), sampleEntries...)
	require.NoError(t, err)
	return c
}

func TestCatalog_AddAndList(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(sampleEntries), n)

	// re-adding updates in place
	_, err = c.Add(ctx, Entry{Name: "NDVI", Source: "MODIS", Unit: "ratio"})
	require.NoError(t, err)
	entries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, len(sampleEntries))
	for _, e := range entries {
		if e.ID() == "MODIS/NDVI" {
			assert.Equal(t, "ratio", e.Unit)
		}
	}

	_, err = c.Add(ctx, Entry{Name: "nameless source"})
	assert.Error(t, err)
}

func TestCatalog_Remove(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Remove(ctx, "WDI", "Consumer price index"))
	assert.ErrorIs(t, c.Remove(ctx, "WDI", "Consumer price index"), cag.ErrNotFound)

	suggestions, err := c.SuggestIndicators(ctx, "inflation prices", 10)
	require.NoError(t, err)
	for _, s := range suggestions {
		assert.NotEqual(t, "Consumer price index", s.Name)
	}
}

func TestSuggestIndicators(t *testing.T) {
	c := setupTestCatalog(t)

	got, err := c.SuggestIndicators(context.Background(), "crop yield", 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.Equal(t, "Crop production yield", got[0].Name)
	if len(got) > 1 {
		assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	}
}

func TestSuggestIndicators_LinearScanMatchesIndex(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	query, err := c.embedder.Embed("rainfall precipitation")
	require.NoError(t, err)
	linear, err := c.linearScan(ctx, query, 1)
	require.NoError(t, err)
	require.Len(t, linear, 1)
	assert.Equal(t, "Average precipitation", linear[0].Name)

	indexed, err := c.SuggestIndicators(ctx, "rainfall precipitation", 1)
	require.NoError(t, err)
	require.Len(t, indexed, 1)
	assert.Equal(t, linear[0].Name, indexed[0].Name)
}

func TestGround(t *testing.T) {
	c := setupTestCatalog(t)
	n := cag.NewNode("UN/entities/natural/crop_technology/crop_yield")
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))

	res, err := c.Ground(context.Background(), n, 2)
	require.NoError(t, err)
	assert.Contains(t, res.Attached, "Crop production yield")
	assert.Equal(t, len(res.Attached)+1, n.NumIndicators())
	for _, name := range res.Skipped {
		assert.Equal(t, "NDVI", name)
	}

	unit, err := n.IndicatorAttribute("Crop production yield", cag.AttrUnit)
	require.NoError(t, err)
	assert.True(t, cag.StringValue("tonnes/ha").Equal(unit))
	require.NoError(t, n.CheckInvariants())
}
