package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/tributary/internal/cag"
)

const sampleStatements = `{"subject": ["large", 1, "rainfall"], "object": ["", 1, "crop yield"]}
{"subject": {"adjective": "", "polarity": -1, "concept": "rainfall"}, "object": {"adjective": "", "polarity": -1, "concept": "crop yield"}}
{"subject": ["", 1, "crop yield"], "object": ["", -1, "food price"], "relation": "influences"}
`

// seedGraph imports a small food-security graph under name
func seedGraph(t *testing.T, dir, name string) {
	t.Helper()
	path := filepath.Join(dir, "statements.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleStatements), 0644))
	mustRun(t, "import", "statements", path, "-g", name)
}

func TestGraph_CreateListDelete(t *testing.T) {
	useDataDir(t)

	out := mustRun(t, "graph", "list")
	assert.Contains(t, out, "No graphs yet")

	out = mustRun(t, "graph", "create", "-g", "alpha")
	assert.Contains(t, out, "Created graph alpha")

	_, err := run(t, "graph", "create", "-g", "alpha")
	require.Error(t, err)
	assert.ErrorIs(t, err, cag.ErrDuplicate)

	out = mustRun(t, "graph", "list")
	assert.Contains(t, out, "alpha")

	out = mustRun(t, "graph", "delete", "-g", "alpha")
	assert.Contains(t, out, "Deleted graph alpha")

	_, err = run(t, "graph", "delete", "-g", "alpha")
	assert.Error(t, err)
}

func TestGraph_CreateUsesDefaultGraph(t *testing.T) {
	useDataDir(t)

	out := mustRun(t, "graph", "create")
	assert.Contains(t, out, "Created graph default")
}

func TestGraph_ShowAndCheck(t *testing.T) {
	dir := useDataDir(t)
	seedGraph(t, dir, "food")

	out := mustRun(t, "graph", "show", "-g", "food")
	assert.Contains(t, out, "Graph food: 3 concepts, 2 relations")
	assert.Contains(t, out, "rainfall --influences--> crop yield  beta=1  statements=2")
	assert.Contains(t, out, "crop yield --influences--> food price")

	out = mustRun(t, "graph", "check", "-g", "food")
	assert.Contains(t, out, "is consistent")

	_, err := run(t, "graph", "show", "-g", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph create")
}

func TestGraph_Fit(t *testing.T) {
	dir := useDataDir(t)
	seedGraph(t, dir, "food")
	mustRun(t, "graph", "create", "-g", "empty")

	out := mustRun(t, "graph", "fit", "-g", "food")
	assert.Contains(t, out, "Fitted 2 relation(s)")
	assert.Contains(t, out, "rainfall -> crop yield: mean +1.00 over 2 statement(s)")
	assert.Contains(t, out, "crop yield -> food price: mean -1.00")

	// without --set-beta nothing is saved
	out = mustRun(t, "graph", "show", "-g", "food")
	assert.Contains(t, out, "crop yield --influences--> food price  beta=1 ")

	mustRun(t, "graph", "fit", "-g", "food", "--set-beta")
	out = mustRun(t, "graph", "show", "-g", "food")
	assert.Contains(t, out, "crop yield --influences--> food price  beta=-1 ")

	out = mustRun(t, "graph", "fit", "-g", "empty")
	assert.Contains(t, out, "Fitted 0 relation(s)")
}

func TestFitSignPrior(t *testing.T) {
	_, err := fitSignPrior(nil)
	assert.Error(t, err)

	d, err := fitSignPrior([]cag.Statement{
		cag.NewStatement(cag.NewEvent("", 1, "a"), cag.NewEvent("", 1, "b")),
		cag.NewStatement(cag.NewEvent("", 1, "a"), cag.NewEvent("", -1, "b")),
		cag.NewStatement(cag.NewEvent("", 1, "a"), cag.NewEvent("", 1, "b")),
		cag.NewStatement(cag.NewEvent("", 0, "a"), cag.NewEvent("", 1, "b")),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, d.Mean(), 1e-9)
	assert.Equal(t, []float64{0.25, 0.25}, d.Sample(nil, 2))
	assert.Equal(t, 1.0, d.PDF(0.25))
	assert.Zero(t, d.PDF(1))
}
