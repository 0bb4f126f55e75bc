package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/catalog"
	"github.com/CanopyHQ/tributary/internal/store"
)

// setupTestServer creates a server over a temp store, writing responses to out
func setupTestServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()

	st, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	server := NewServerWithStore(st, "test", nil, strings.NewReader(""), out)
	t.Cleanup(server.Stop)
	return server, out
}

// roundTrip sends one request and decodes the single response line
func roundTrip(t *testing.T, s *Server, out *bytes.Buffer, method string, params any) JSONRPCResponse {
	t.Helper()
	out.Reset()

	req := &JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = raw
	}
	s.handleRequest(context.Background(), req)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), "response: %s", out.String())
	return resp
}

// callTool invokes a tool and returns the text content and the isError flag
func callTool(t *testing.T, s *Server, out *bytes.Buffer, name string, args map[string]any) (string, bool) {
	t.Helper()
	resp := roundTrip(t, s, out, "tools/call", map[string]any{"name": name, "arguments": args})
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	content := result["content"].([]any)
	require.NotEmpty(t, content)
	text := content[0].(map[string]any)["text"].(string)
	isErr, _ := result["isError"].(bool)
	return text, isErr
}

// mustCall fails the test on a tool error and decodes the JSON result
func mustCall(t *testing.T, s *Server, out *bytes.Buffer, name string, args map[string]any) map[string]any {
	t.Helper()
	text, isErr := callTool(t, s, out, name, args)
	require.False(t, isErr, "%s failed: %s", name, text)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	return result
}

func TestHandleInitialize(t *testing.T) {
	server, out := setupTestServer(t)

	resp := roundTrip(t, server, out, "initialize", nil)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	caps := result["capabilities"].(map[string]any)
	assert.NotNil(t, caps["tools"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "tributary-mcp", info["name"])
}

func TestHandleToolsList(t *testing.T) {
	server, out := setupTestServer(t)

	resp := roundTrip(t, server, out, "tools/list", nil)
	tools := resp.Result.(map[string]any)["tools"].([]any)

	found := map[string]bool{}
	for _, tool := range tools {
		toolMap := tool.(map[string]any)
		name := toolMap["name"].(string)
		found[name] = true

		assert.NotEmpty(t, toolMap["description"], "tool %s", name)
		schema := toolMap["inputSchema"].(map[string]any)
		assert.Equal(t, "object", schema["type"], "tool %s", name)
	}
	for name := range toolHandlers {
		assert.True(t, found[name], "tool %s has a handler but no definition", name)
	}
	assert.Len(t, tools, len(toolHandlers))
}

func TestToolCall_MissingGraph(t *testing.T) {
	server, out := setupTestServer(t)

	text, isErr := callTool(t, server, out, "add_concept", map[string]any{"concept": "rain"})
	assert.True(t, isErr)
	assert.Contains(t, text, "create_graph")
}

func TestToolCall_CreateGraph(t *testing.T) {
	server, out := setupTestServer(t)

	info := mustCall(t, server, out, "create_graph", map[string]any{})
	assert.Equal(t, "test", info["name"])

	text, isErr := callTool(t, server, out, "create_graph", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "already")

	list := mustCall(t, server, out, "list_graphs", map[string]any{})
	assert.EqualValues(t, 1, list["count"])
}

func TestToolCall_ConceptsAndRelations(t *testing.T) {
	server, out := setupTestServer(t)
	mustCall(t, server, out, "create_graph", map[string]any{})

	added := mustCall(t, server, out, "add_concept", map[string]any{"concept": "rainfall"})
	assert.Equal(t, true, added["added"])
	again := mustCall(t, server, out, "add_concept", map[string]any{"concept": "rainfall"})
	assert.Equal(t, false, again["added"])

	rel := mustCall(t, server, out, "add_relation", map[string]any{
		"source": "rainfall", "target": "crop yield",
	})
	assert.Equal(t, "influences", rel["relation"])
	assert.EqualValues(t, 0, rel["evidence"])

	rel = mustCall(t, server, out, "add_relation", map[string]any{
		"source": "rainfall", "target": "crop yield",
		"subject_polarity": 1.0, "object_polarity": 1.0, "subject_adjective": "heavy",
	})
	assert.EqualValues(t, 1, rel["evidence"])

	concept := mustCall(t, server, out, "describe_concept", map[string]any{"concept": "crop yield"})
	assert.Equal(t, []any{"rainfall"}, concept["causes"])
	assert.Empty(t, concept["effects"])

	text, isErr := callTool(t, server, out, "add_relation", map[string]any{"source": "rainfall"})
	assert.True(t, isErr)
	assert.Contains(t, text, "target is required")
}

func TestToolCall_IndicatorProtocol(t *testing.T) {
	server, out := setupTestServer(t)
	mustCall(t, server, out, "create_graph", map[string]any{})
	mustCall(t, server, out, "add_concept", map[string]any{"concept": "Crop Yield"})

	res := mustCall(t, server, out, "add_indicator", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "source": "MODIS",
	})
	assert.Equal(t, true, res["added"])

	// A duplicate add is reported, not failed, and leaves one copy
	res = mustCall(t, server, out, "add_indicator", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "source": "other",
	})
	assert.Equal(t, false, res["added"])
	assert.Equal(t, []any{"NDVI"}, res["indicators"])

	mustCall(t, server, out, "set_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "mean", "value": 0.42,
	})
	got := mustCall(t, server, out, "get_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "mean",
	})
	assert.InDelta(t, 0.42, got["value"], 1e-9)

	src := mustCall(t, server, out, "get_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "source",
	})
	assert.Equal(t, "MODIS", src["value"])

	rep := mustCall(t, server, out, "replace_indicator", map[string]any{
		"concept": "Crop Yield", "old": "NDVI", "new": "EVI", "source": "MODIS",
	})
	assert.Equal(t, true, rep["replaced"])
	assert.Equal(t, []any{"EVI"}, rep["indicators"])

	// The replacement starts with no data
	text, isErr := callTool(t, server, out, "get_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "mean",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "NDVI")

	text, isErr = callTool(t, server, out, "set_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "EVI", "attribute": "name", "value": "x",
	})
	assert.True(t, isErr, text)

	cleared := mustCall(t, server, out, "clear_indicators", map[string]any{"concept": "Crop Yield"})
	assert.EqualValues(t, 1, cleared["cleared"])

	concept := mustCall(t, server, out, "describe_concept", map[string]any{"concept": "Crop Yield"})
	assert.Empty(t, concept["indicators"])
}

func TestToolCall_NaNIndicatorStaysRepairable(t *testing.T) {
	server, out := setupTestServer(t)
	ctx := context.Background()

	g := cag.New("test")
	id, _ := g.AddConcept("Crop Yield")
	n, err := g.Node(id)
	require.NoError(t, err)
	require.NoError(t, n.AddIndicator("NDVI", "MODIS"))
	require.NoError(t, n.SetIndicatorAttribute("NDVI", cag.AttrMean, cag.FloatValue(math.NaN())))
	_, err = server.store.SaveGraph(ctx, g)
	require.NoError(t, err)

	// NaN has no JSON form, so the read reports an error instead of empty text
	text, isErr := callTool(t, server, out, "get_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "mean",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "failed to encode result")

	mustCall(t, server, out, "set_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "mean", "value": 0.5,
	})
	got := mustCall(t, server, out, "get_indicator_attribute", map[string]any{
		"concept": "Crop Yield", "indicator": "NDVI", "attribute": "mean",
	})
	assert.InDelta(t, 0.5, got["value"], 1e-9)
}

func TestToolCall_IndicatorOnUnknownConcept(t *testing.T) {
	server, out := setupTestServer(t)
	mustCall(t, server, out, "create_graph", map[string]any{})

	text, isErr := callTool(t, server, out, "add_indicator", map[string]any{
		"concept": "ghost", "indicator": "NDVI",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "ghost")
}

func TestToolCall_SuggestIndicators(t *testing.T) {
	server, out := setupTestServer(t)
	ctx := context.Background()
	mustCall(t, server, out, "create_graph", map[string]any{})
	mustCall(t, server, out, "add_concept", map[string]any{"concept": "rainfall"})

	_, err := server.store.Catalog().Add(ctx,
		catalog.Entry{Name: "Average precipitation", Source: "WB", Unit: "mm", Description: "rainfall per year"},
		catalog.Entry{Name: "Wheat production", Source: "FAO", Unit: "t", Description: "crop output"},
	)
	require.NoError(t, err)

	res := mustCall(t, server, out, "suggest_indicators", map[string]any{"concept": "rainfall", "limit": 1.0})
	suggestions := res["suggestions"].([]any)
	require.Len(t, suggestions, 1)

	grounded := mustCall(t, server, out, "suggest_indicators", map[string]any{
		"concept": "rainfall", "limit": 2.0, "ground": true,
	})
	assert.Len(t, grounded["attached"], 2)

	concept := mustCall(t, server, out, "describe_concept", map[string]any{"concept": "rainfall"})
	assert.Len(t, concept["indicators"], 2)
}

func TestToolCall_DescribeGraph(t *testing.T) {
	server, out := setupTestServer(t)
	mustCall(t, server, out, "create_graph", map[string]any{})
	mustCall(t, server, out, "add_relation", map[string]any{"source": "a", "target": "b"})

	desc := mustCall(t, server, out, "describe_graph", map[string]any{})
	assert.Equal(t, "1.0", desc["timeStep"])
	assert.Len(t, desc["variables"], 2)
}

func TestToolCall_UnknownTool(t *testing.T) {
	server, out := setupTestServer(t)

	resp := roundTrip(t, server, out, "tools/call", map[string]any{"name": "unknown_tool"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestHandleResources(t *testing.T) {
	server, out := setupTestServer(t)
	mustCall(t, server, out, "create_graph", map[string]any{})

	resp := roundTrip(t, server, out, "resources/list", nil)
	resources := resp.Result.(map[string]any)["resources"].([]any)
	uris := map[string]bool{}
	for _, r := range resources {
		uris[r.(map[string]any)["uri"].(string)] = true
	}
	for _, uri := range []string{"tributary://graphs", "tributary://stats", "tributary://model"} {
		assert.True(t, uris[uri], uri)

		read := roundTrip(t, server, out, "resources/read", map[string]any{"uri": uri})
		require.Nil(t, read.Error, uri)
		contents := read.Result.(map[string]any)["contents"].([]any)
		assert.NotEmpty(t, contents, uri)
	}

	unknown := roundTrip(t, server, out, "resources/read", map[string]any{"uri": "tributary://nope"})
	assert.NotNil(t, unknown.Error)
}

func TestHandleResourceRead_InvalidParams(t *testing.T) {
	server, out := setupTestServer(t)

	out.Reset()
	server.handleRequest(context.Background(), &JSONRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "resources/read", Params: json.RawMessage(`{`),
	})
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.NotNil(t, resp.Error)
}

func TestUnknownMethod(t *testing.T) {
	server, out := setupTestServer(t)

	resp := roundTrip(t, server, out, "unknown/method", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestStats(t *testing.T) {
	server, out := setupTestServer(t)

	stats := server.Stats(context.Background())
	assert.Equal(t, 0, stats.TotalGraphs)
	assert.Equal(t, "never", stats.LastActivity)

	mustCall(t, server, out, "create_graph", map[string]any{})
	stats = server.Stats(context.Background())
	assert.Equal(t, 1, stats.TotalGraphs)
	assert.NotEmpty(t, stats.DatabaseSize)
	assert.NotEqual(t, "never", stats.LastActivity)
}

func TestServer_Start_OneRequestThenEOF(t *testing.T) {
	st, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)

	line, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	in := strings.NewReader(string(line) + "\n\nnot json\n")
	out := &bytes.Buffer{}
	server := NewServerWithStore(st, "", nil, in, out)
	defer server.Stop()

	done := make(chan error, 1)
	go func() { done <- server.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start timed out")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "protocolVersion")
	assert.Contains(t, lines[1], "-32700")
}
