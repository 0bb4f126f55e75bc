package cag

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) (*Node, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	n := NewNode("Crop Yield")
	n.logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return n, &buf
}

// =============================================================================
// Add / Duplicate
// =============================================================================

func TestAddIndicator(t *testing.T) {
	n, _ := newTestNode(t)

	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.AddIndicator("EVI", "MODIS"))

	assert.Equal(t, 2, n.NumIndicators())
	assert.Equal(t, []string{"NDVI", "EVI"}, n.IndicatorNames())
	idx, err := n.IndicatorIndex("EVI")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	ind, err := n.Indicator("NDVI")
	require.NoError(t, err)
	assert.Equal(t, "MODIS", ind.Source)
	assert.Equal(t, DefaultAggregationMethod, ind.AggregationMethod)
	assert.Zero(t, ind.Mean)
	assert.Empty(t, ind.Samples)
	require.NoError(t, n.CheckInvariants())
}

func TestAddIndicator_DuplicateIsNoOp(t *testing.T) {
	n, logs := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", AttrMean, FloatValue(0.42)))

	err := n.AddIndicator("NDVI", "Landsat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
	var dup *DuplicateIndicatorError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "NDVI", dup.Indicator)
	assert.Contains(t, logs.String(), "indicator already attached")

	assert.Equal(t, 1, n.NumIndicators())
	ind, err := n.Indicator("NDVI")
	require.NoError(t, err)
	assert.Equal(t, "MODIS", ind.Source, "first add wins")
	assert.Equal(t, 0.42, ind.Mean)
	require.NoError(t, n.CheckInvariants())
}

// =============================================================================
// Replace
// =============================================================================

func TestReplaceIndicator_PreservesPositionAndResets(t *testing.T) {
	n, _ := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.AddIndicator("EVI", "MODIS"))
	require.NoError(t, n.AddIndicator("LAI", "MODIS"))
	require.NoError(t, n.SetIndicatorAttribute("EVI", AttrMean, FloatValue(3.5)))
	require.NoError(t, n.SetIndicatorAttribute("EVI", AttrSamples, FloatsValue([]float64{1, 2})))

	replaced, err := n.ReplaceIndicator("EVI", "NDWI", "Sentinel")
	require.NoError(t, err)
	assert.True(t, replaced)

	assert.Equal(t, []string{"NDVI", "NDWI", "LAI"}, n.IndicatorNames())
	assert.False(t, n.HasIndicator("EVI"))
	idx, err := n.IndicatorIndex("NDWI")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	ind, err := n.Indicator("NDWI")
	require.NoError(t, err)
	assert.Equal(t, NewIndicator("NDWI", "Sentinel"), ind)
	require.NoError(t, n.CheckInvariants())
}

func TestReplaceIndicator_SameNameResets(t *testing.T) {
	n, _ := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", AttrUnit, StringValue("index")))

	replaced, err := n.ReplaceIndicator("NDVI", "NDVI", "Landsat")
	require.NoError(t, err)
	assert.True(t, replaced)

	ind, err := n.Indicator("NDVI")
	require.NoError(t, err)
	assert.Equal(t, "Landsat", ind.Source)
	assert.Empty(t, ind.Unit)
	require.NoError(t, n.CheckInvariants())
}

func TestReplaceIndicator_MissingFallsBackToAdd(t *testing.T) {
	n, logs := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))

	replaced, err := n.ReplaceIndicator("GPP", "EVI", "MODIS")
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, []string{"NDVI", "EVI"}, n.IndicatorNames())
	assert.Contains(t, logs.String(), "adding afresh")
	require.NoError(t, n.CheckInvariants())
}

func TestReplaceIndicator_OntoExistingNameRejected(t *testing.T) {
	n, _ := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.AddIndicator("EVI", "MODIS"))

	replaced, err := n.ReplaceIndicator("NDVI", "EVI", "Landsat")
	assert.False(t, replaced)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, []string{"NDVI", "EVI"}, n.IndicatorNames())
	ind, err := n.Indicator("EVI")
	require.NoError(t, err)
	assert.Equal(t, "MODIS", ind.Source)
	require.NoError(t, n.CheckInvariants())
}

// =============================================================================
// Attributes
// =============================================================================

func TestIndicatorAttribute_RoundTrip(t *testing.T) {
	values := map[Attribute]Value{
		AttrSource:            StringValue("FAO"),
		AttrUnit:              StringValue("tonnes/ha"),
		AttrMean:              FloatValue(12.5),
		AttrValue:             FloatValue(11),
		AttrStdev:             FloatValue(0.75),
		AttrTime:              StringValue("2017-06"),
		AttrAggAxes:           StringsValue([]string{"time", "region"}),
		AttrAggregationMethod: StringValue("median"),
		AttrTimeseries:        FloatsValue([]float64{1, 2, 3}),
		AttrSamples:           FloatsValue([]float64{0.1, 0.2}),
	}

	for _, attr := range Attributes() {
		if !attr.Settable() {
			continue
		}
		t.Run(attr.String(), func(t *testing.T) {
			n, _ := newTestNode(t)
			require.NoError(t, n.AddIndicator("NDVI", "MODIS"))

			want, ok := values[attr]
			require.True(t, ok, "no fixture for %s", attr)
			require.NoError(t, n.SetIndicatorAttribute("NDVI", attr, want))

			got, err := n.IndicatorAttribute("NDVI", attr)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "want %v, got %v", want.Any(), got.Any())
		})
	}
}

func TestIndicatorAttribute_ListsAreCopied(t *testing.T) {
	n, _ := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))

	samples := []float64{1, 2, 3}
	require.NoError(t, n.SetIndicatorAttribute("NDVI", AttrSamples, FloatsValue(samples)))
	samples[0] = 99

	got, err := n.IndicatorAttribute("NDVI", AttrSamples)
	require.NoError(t, err)
	fs, ok := got.AsFloats()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, fs)
}

func TestSetIndicatorAttribute_Errors(t *testing.T) {
	n, _ := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	before := n.Indicators()

	err := n.SetIndicatorAttribute("EVI", AttrMean, FloatValue(1))
	assert.ErrorIs(t, err, ErrNotFound)

	err = n.SetIndicatorAttribute("NDVI", AttrMean, StringValue("high"))
	assert.ErrorIs(t, err, ErrInvalidAttribute)

	err = n.SetIndicatorAttribute("NDVI", Attribute(99), FloatValue(1))
	assert.ErrorIs(t, err, ErrInvalidAttribute)

	err = n.SetIndicatorAttribute("NDVI", AttrName, StringValue("EVI"))
	assert.ErrorIs(t, err, ErrReadOnlyAttribute)

	_, err = n.IndicatorAttribute("EVI", AttrMean)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, n.Indicators())
	assert.False(t, n.HasIndicator("EVI"))
	require.NoError(t, n.CheckInvariants())
}

func TestParseAttribute(t *testing.T) {
	attr, err := ParseAttribute("aggregation_method")
	require.NoError(t, err)
	assert.Equal(t, AttrAggregationMethod, attr)

	attr, err = ParseAttribute(" Mean ")
	require.NoError(t, err)
	assert.Equal(t, AttrMean, attr)

	_, err = ParseAttribute("colour")
	assert.ErrorIs(t, err, ErrInvalidAttribute)
}

func TestValueFromAny(t *testing.T) {
	v, err := ValueFromAny(AttrMean, 2.5)
	require.NoError(t, err)
	f, ok := v.AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	v, err = ValueFromAny(AttrAggAxes, []any{"time", "space"})
	require.NoError(t, err)
	ss, ok := v.AsStrings()
	assert.True(t, ok)
	assert.Equal(t, []string{"time", "space"}, ss)

	v, err = ValueFromAny(AttrSamples, []any{1.0, 2.0})
	require.NoError(t, err)
	assert.Equal(t, KindFloats, v.Kind())

	_, err = ValueFromAny(AttrSamples, []any{1.0, "x"})
	assert.ErrorIs(t, err, ErrInvalidAttribute)

	_, err = ValueFromAny(AttrUnit, 3.0)
	assert.ErrorIs(t, err, ErrInvalidAttribute)
}

// =============================================================================
// Clear
// =============================================================================

func TestClearIndicators(t *testing.T) {
	n, _ := newTestNode(t)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.AddIndicator("EVI", "MODIS"))

	n.ClearIndicators()
	assert.Zero(t, n.NumIndicators())
	assert.False(t, n.HasIndicator("NDVI"))
	require.NoError(t, n.CheckInvariants())

	// behaves like a fresh node
	require.NoError(t, n.AddIndicator("EVI", "Landsat"))
	idx, err := n.IndicatorIndex("EVI")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

// =============================================================================
// End to end
// =============================================================================

func TestCropYieldScenario(t *testing.T) {
	g := New("agriculture")
	id, added := g.AddConcept("Crop Yield")
	require.True(t, added)
	n, err := g.Node(id)
	require.NoError(t, err)

	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", AttrMean, FloatValue(0.6)))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", AttrUnit, StringValue("index")))

	replaced, err := n.ReplaceIndicator("NDVI", "EVI", "MODIS")
	require.NoError(t, err)
	assert.True(t, replaced)

	assert.Equal(t, []string{"EVI"}, n.IndicatorNames())
	mean, err := n.IndicatorAttribute("EVI", AttrMean)
	require.NoError(t, err)
	assert.True(t, FloatValue(0).Equal(mean))
	unit, err := n.IndicatorAttribute("EVI", AttrUnit)
	require.NoError(t, err)
	assert.True(t, StringValue("").Equal(unit))

	_, err = n.IndicatorAttribute("NDVI", AttrMean)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, g.Validate())
}
