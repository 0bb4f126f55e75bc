package extract

import (
	"testing"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_empty(t *testing.T) {
	assert.Nil(t, Extract(""))
	assert.Nil(t, Extract("   "))
	assert.Empty(t, Extract("Nothing causal here. Just prose"))
}

func TestExtract_increases(t *testing.T) {
	out := Extract("Heavy rainfall increases crop yield.")
	require.Len(t, out, 1)
	assert.Equal(t, cag.NewEvent("heavy", 1, "rainfall"), out[0].Statement.Subject)
	assert.Equal(t, cag.NewEvent("", 1, "crop yield"), out[0].Statement.Object)
	assert.Equal(t, "increases", out[0].Trigger)
	assert.Equal(t, 1, out[0].Statement.Sign())
}

func TestExtract_decreases(t *testing.T) {
	out := Extract("Conflict reduces food security")
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Statement.Subject.Polarity)
	assert.Equal(t, -1, out[0].Statement.Object.Polarity)
	assert.Equal(t, "food security", out[0].Statement.Object.Concept)
}

func TestExtract_directionWords(t *testing.T) {
	out := Extract("Lower rainfall leads to a significant decline in harvests; higher prices lead to reduced consumption.")
	require.Len(t, out, 2)

	first := out[0].Statement
	assert.Equal(t, -1, first.Subject.Polarity)
	assert.Equal(t, "rainfall", first.Subject.Concept)
	assert.Equal(t, "significant", first.Object.Adjective)
	assert.Equal(t, "leads to", out[0].Trigger)

	second := out[1].Statement
	assert.Equal(t, 1, second.Subject.Polarity)
	assert.Equal(t, -1, second.Object.Polarity)
	assert.Equal(t, "consumption", second.Object.Concept)
	assert.Equal(t, -1, second.Sign())
}

func TestExtract_dedup(t *testing.T) {
	out := Extract("Drought causes famine. Drought causes famine!")
	assert.Len(t, out, 1)
}

func TestExtract_tooShort(t *testing.T) {
	assert.Empty(t, Extract("It causes X"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("  abc  ", 10))
	assert.Equal(t, "abcd", truncate("abcdefgh", 4))
}
