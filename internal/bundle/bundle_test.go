package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph(t *testing.T) *cag.Graph {
	t.Helper()
	g := cag.New("food security")
	_, err := g.AddStatement("influences", cag.NewStatement(
		cag.NewEvent("large", 1, "conflict"), cag.NewEvent("", -1, "food security")))
	require.NoError(t, err)
	n, err := g.NodeByName("food security")
	require.NoError(t, err)
	require.NoError(t, n.AddIndicator("IPC Phase", "FEWS NET"))
	require.NoError(t, n.SetIndicatorAttribute("IPC Phase", cag.AttrMean, cag.FloatValue(3)))
	return g
}

func TestPackageAndUnpack(t *testing.T) {
	g := sampleGraph(t)
	path := filepath.Join(t.TempDir(), "fs"+Extension)
	manifest := NewManifest(g.Snapshot(), "conflict model", "analyst")

	require.NoError(t, Package(g, manifest, path))

	payload, err := Unpack(path)
	require.NoError(t, err)
	assert.Equal(t, manifest.ID, payload.Manifest.ID)
	assert.Equal(t, 2, payload.Manifest.Concepts)
	assert.Equal(t, 1, payload.Manifest.Indicators)
	assert.Equal(t, 1, payload.Manifest.Relations)
	assert.Equal(t, 1, payload.Manifest.Statements)

	restored, err := payload.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, g.Snapshot(), restored.Snapshot())

	m, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, "analyst", m.Author)
}

func TestRead_Rejects(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("PHLO\x01")))
	assert.ErrorContains(t, err, "not a graph bundle")

	_, err = Read(bytes.NewReader(append(append([]byte{}, MagicBytes...), 9)))
	assert.ErrorContains(t, err, "unsupported version")

	_, err = Read(bytes.NewReader([]byte("CA")))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0600))
	_, err = Unpack(path)
	assert.Error(t, err)
}

func TestWriteRead_Buffer(t *testing.T) {
	g := sampleGraph(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, NewManifest(g.Snapshot(), "", ""), g.Snapshot()))
	assert.Equal(t, MagicBytes, buf.Bytes()[:4])

	payload, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, "food security", payload.Graph.Name)
}

func TestDescribe(t *testing.T) {
	g := sampleGraph(t)
	d := Describe(g)

	assert.Equal(t, ModelName, d.Name)
	assert.Equal(t, "1.0", d.TimeStep)
	require.Len(t, d.Variables, 2)

	names := []string{d.Variables[0].Name, d.Variables[1].Name}
	assert.ElementsMatch(t, []string{"conflict", "food security"}, names)
	fs := d.Variables[1]
	assert.Equal(t, []string{"conflict"}, fs.Parents)
	require.Len(t, fs.Indicators, 1)
	assert.Equal(t, 3.0, fs.Indicators[0].Mean)
}
