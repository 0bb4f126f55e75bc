package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/config"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleGraph(t *testing.T) *cag.Graph {
	t.Helper()
	g := cag.New("food security")

	_, err := g.AddStatement("influences", cag.NewStatement(
		cag.NewEvent("large", 1, "rainfall"),
		cag.NewEvent("", 1, "crop yield"),
	))
	require.NoError(t, err)
	_, err = g.AddStatement("influences", cag.NewStatement(
		cag.NewEvent("", -1, "rainfall"),
		cag.NewEvent("small", -1, "crop yield"),
	))
	require.NoError(t, err)
	id, err := g.AddRelation("crop yield", "food price", "influences")
	require.NoError(t, err)
	e, _ := g.Edge(id)
	e.SetBeta(-0.5)
	g.AddConcept("conflict")

	n, err := g.NodeByName("crop yield")
	require.NoError(t, err)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.AddIndicator("Wheat production", "FAO"))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrMean, cag.FloatValue(0.42)))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrAggAxes, cag.StringsValue([]string{"month", "year"})))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrTimeseries, cag.FloatsValue([]float64{0.3, 0.5})))
	require.NoError(t, n.SetIndicatorAttribute("Wheat production", cag.AttrUnit, cag.StringValue("t")))
	return g
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, dir, s.DataDir())
	assert.FileExists(t, filepath.Join(dir, DBFile))
	assert.NotNil(t, s.DB())
	assert.NotNil(t, s.Catalog())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	g := sampleGraph(t)

	info, err := s.SaveGraph(ctx, g)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 4, info.Concepts)
	assert.Equal(t, 2, info.Indicators)
	assert.Equal(t, 2, info.Relations)
	assert.Equal(t, 2, info.Statements)

	loaded, err := s.LoadGraph(ctx, "food security")
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())
	assert.Equal(t, g.Snapshot(), loaded.Snapshot())

	n, err := loaded.NodeByName("crop yield")
	require.NoError(t, err)
	assert.Equal(t, []string{"NDVI", "Wheat production"}, n.IndicatorNames())
	mean, err := n.IndicatorAttribute("NDVI", cag.AttrMean)
	require.NoError(t, err)
	assert.True(t, mean.Equal(cag.FloatValue(0.42)))
}

func TestSaveLoad_NonFiniteIndicatorValues(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	g := cag.New("drought")
	id, _ := g.AddConcept("crop yield")
	n, err := g.Node(id)
	require.NoError(t, err)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrMean, cag.FloatValue(math.NaN())))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrStdev, cag.FloatValue(math.Inf(1))))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrTimeseries,
		cag.FloatsValue([]float64{0.3, math.NaN(), math.Inf(-1)})))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrSamples, cag.FloatsValue([]float64{math.Inf(1)})))

	_, err = s.SaveGraph(ctx, g)
	require.NoError(t, err)

	loaded, err := s.LoadGraph(ctx, "drought")
	require.NoError(t, err)
	ln, err := loaded.NodeByName("crop yield")
	require.NoError(t, err)
	ind, err := ln.Indicator("NDVI")
	require.NoError(t, err)

	assert.True(t, math.IsNaN(ind.Mean))
	assert.Equal(t, 0.0, ind.Value)
	assert.True(t, math.IsInf(ind.Stdev, 1))
	require.Len(t, ind.Timeseries, 3)
	assert.Equal(t, 0.3, ind.Timeseries[0])
	assert.True(t, math.IsNaN(ind.Timeseries[1]))
	assert.True(t, math.IsInf(ind.Timeseries[2], -1))
	assert.Equal(t, []float64{math.Inf(1)}, ind.Samples)

	// the graph stays editable after the round trip
	require.NoError(t, ln.SetIndicatorAttribute("NDVI", cag.AttrMean, cag.FloatValue(0.4)))
	_, err = s.SaveGraph(ctx, loaded)
	require.NoError(t, err)
}

func TestDecodeFloats_AcceptsPlainNumbers(t *testing.T) {
	fs, err := decodeFloats("[0.5,2]")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 2}, fs)

	fs, err = decodeFloats("null")
	require.NoError(t, err)
	assert.Nil(t, fs)

	_, err = decodeFloats(`["soon"]`)
	assert.Error(t, err)
}

func TestSaveGraph_ReplacesAndKeepsID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	g := sampleGraph(t)

	first, err := s.SaveGraph(ctx, g)
	require.NoError(t, err)

	id, _ := g.Concept("conflict")
	require.NoError(t, g.RemoveConcept(id))
	second, err := s.SaveGraph(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.Equal(t, 3, second.Concepts)

	loaded, err := s.LoadGraph(ctx, g.Name())
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.NumConcepts())

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveGraph_RequiresName(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.SaveGraph(context.Background(), cag.New(""))
	assert.Error(t, err)
}

func TestLoadGraph_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.LoadGraph(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrGraphNotFound)
	assert.ErrorIs(t, err, cag.ErrNotFound)

	ok, err := s.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.SaveGraph(ctx, sampleGraph(t))
	require.NoError(t, err)
	_, err = s.SaveGraph(ctx, cag.New("empty"))
	require.NoError(t, err)

	graphs, err := s.ListGraphs(ctx)
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	names := []string{graphs[0].Name, graphs[1].Name}
	assert.ElementsMatch(t, []string{"food security", "empty"}, names)

	require.NoError(t, s.DeleteGraph(ctx, "food security"))
	ok, err := s.Exists(ctx, "food security")
	require.NoError(t, err)
	assert.False(t, ok)

	var rows int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM evidence`).Scan(&rows))
	assert.Zero(t, rows)

	assert.ErrorIs(t, s.DeleteGraph(ctx, "food security"), ErrGraphNotFound)
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	last, err := s.LastActivity(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	_, err = s.SaveGraph(ctx, sampleGraph(t))
	require.NoError(t, err)

	last, err = s.LastActivity(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	size, err := s.Size()
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", size)
}

func TestNewStore_UsesDataDirEnv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv(config.EnvDataDir, dir)

	s, err := NewStore()
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, dir, s.DataDir())
	assert.FileExists(t, filepath.Join(dir, DBFile))
}

func TestSchema_GraphsColumns(t *testing.T) {
	s := setupTestStore(t)

	rows, err := s.DB().Query(`SELECT name FROM pragma_table_info('graphs') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var c string
		require.NoError(t, rows.Scan(&c))
		cols = append(cols, c)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"id", "name", "created_at", "updated_at"}, cols)
}
