package acceptance

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cucumber/godog"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/config"
	"github.com/CanopyHQ/tributary/internal/mcp"
	"github.com/CanopyHQ/tributary/internal/store"
)

var (
	binaryOnce sync.Once
	binaryPath string
	binaryErr  error
)

// TestContext holds state between steps of one scenario
type TestContext struct {
	ctx     context.Context
	dataDir string

	// in-memory graph steps
	graph   *cag.Graph
	lastErr error

	// MCP server running in-process over pipes
	server       *mcp.Server
	serverStore  *store.Store
	serverIn     *io.PipeWriter
	serverOut    *bufio.Reader
	serverCancel context.CancelFunc
	requestID    int
	lastResponse map[string]any
	lastIsError  bool
	lastText     string

	// CLI run state
	lastCLIStdout   string
	lastCLIStderr   string
	lastCLIExitCode int
}

func (tc *TestContext) reset() error {
	dir, err := os.MkdirTemp("", "tributary-test-*")
	if err != nil {
		return err
	}
	*tc = TestContext{ctx: context.Background(), dataDir: dir}
	return nil
}

func (tc *TestContext) cleanup() {
	tc.stopServer()
	if tc.dataDir != "" {
		os.RemoveAll(tc.dataDir)
	}
}

// ---- graph and indicator steps ----

func (tc *TestContext) graphNamed(name string) error {
	tc.graph = cag.New(name, cag.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return nil
}

func (tc *TestContext) graphHasConcept(name string) error {
	tc.graph.AddConcept(name)
	return nil
}

func (tc *TestContext) node(concept string) (*cag.Node, error) {
	if tc.graph == nil {
		return nil, fmt.Errorf("no graph in scenario")
	}
	return tc.graph.NodeByName(concept)
}

func (tc *TestContext) attachIndicator(name, source, concept string) error {
	n, err := tc.node(concept)
	if err != nil {
		return err
	}
	tc.lastErr = n.AddIndicator(name, source)
	return nil
}

func (tc *TestContext) setIndicatorAttribute(key, indicator, concept, text string) error {
	n, err := tc.node(concept)
	if err != nil {
		return err
	}
	attr, err := cag.ParseAttribute(key)
	if err != nil {
		tc.lastErr = err
		return nil
	}
	v, err := parseStepValue(attr, text)
	if err != nil {
		return err
	}
	tc.lastErr = n.SetIndicatorAttribute(indicator, attr, v)
	return nil
}

// parseStepValue reads numbers for numeric attributes and comma-separated lists for
// list attributes
func parseStepValue(attr cag.Attribute, text string) (cag.Value, error) {
	switch attr.Kind() {
	case cag.KindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return cag.Value{}, err
		}
		return cag.FloatValue(f), nil
	case cag.KindStrings, cag.KindFloats:
		var items []any
		for _, part := range strings.Split(text, ",") {
			part = strings.TrimSpace(part)
			if attr.Kind() == cag.KindFloats {
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return cag.Value{}, err
				}
				items = append(items, f)
			} else {
				items = append(items, part)
			}
		}
		return cag.ValueFromAny(attr, items)
	default:
		return cag.StringValue(text), nil
	}
}

func (tc *TestContext) replaceIndicator(oldName, newName, concept string) error {
	n, err := tc.node(concept)
	if err != nil {
		return err
	}
	_, tc.lastErr = n.ReplaceIndicator(oldName, newName, "")
	return nil
}

func (tc *TestContext) clearIndicators(concept string) error {
	n, err := tc.node(concept)
	if err != nil {
		return err
	}
	n.ClearIndicators()
	return nil
}

func (tc *TestContext) conceptHasIndicators(concept, names string) error {
	n, err := tc.node(concept)
	if err != nil {
		return err
	}
	var want []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			want = append(want, name)
		}
	}
	got := n.IndicatorNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("expected indicators %v on %s, got %v", want, concept, got)
	}
	return n.CheckInvariants()
}

func (tc *TestContext) conceptHasNoIndicators(concept string) error {
	return tc.conceptHasIndicators(concept, "")
}

func (tc *TestContext) attributeShouldBe(key, indicator, concept, want string) error {
	n, err := tc.node(concept)
	if err != nil {
		return err
	}
	attr, err := cag.ParseAttribute(key)
	if err != nil {
		return err
	}
	v, err := n.IndicatorAttribute(indicator, attr)
	if err != nil {
		return err
	}
	got, _ := json.Marshal(v.Any())
	if string(got) != want {
		return fmt.Errorf("expected %s of %s to be %s, got %s", key, indicator, want, got)
	}
	return nil
}

func (tc *TestContext) lastSucceeded() error {
	if tc.lastErr != nil {
		return fmt.Errorf("expected success, got %v", tc.lastErr)
	}
	return nil
}

func (tc *TestContext) lastFailedWith(kind string) error {
	var target error
	switch kind {
	case "duplicate":
		target = cag.ErrDuplicate
	case "not found":
		target = cag.ErrNotFound
	case "read-only":
		target = cag.ErrReadOnlyAttribute
	case "invalid attribute":
		target = cag.ErrInvalidAttribute
	default:
		return fmt.Errorf("unknown error kind %q", kind)
	}
	if !errors.Is(tc.lastErr, target) {
		return fmt.Errorf("expected a %s error, got %v", kind, tc.lastErr)
	}
	return nil
}

func (tc *TestContext) addStatement(subject, verb, object string) error {
	if tc.graph == nil {
		return fmt.Errorf("no graph in scenario")
	}
	polarity := 1
	if verb == "decreases" {
		polarity = -1
	}
	_, tc.lastErr = tc.graph.AddStatement("influences",
		cag.NewStatement(cag.NewEvent("", 1, subject), cag.NewEvent("", polarity, object)))
	return nil
}

func (tc *TestContext) relationHasStatements(source, target string, count int) error {
	src, err := tc.graph.Concept(source)
	if err != nil {
		return err
	}
	dst, err := tc.graph.Concept(target)
	if err != nil {
		return err
	}
	id, err := tc.graph.FindEdge(src, dst, "influences")
	if err != nil {
		return err
	}
	e, err := tc.graph.Edge(id)
	if err != nil {
		return err
	}
	if e.NumEvidence() != count {
		return fmt.Errorf("expected %d statements on %s -> %s, got %d", count, source, target, e.NumEvidence())
	}
	return nil
}

func (tc *TestContext) graphHasCounts(concepts, relations int) error {
	if tc.graph.NumConcepts() != concepts || tc.graph.NumEdges() != relations {
		return fmt.Errorf("expected %d concepts and %d relations, got %d and %d",
			concepts, relations, tc.graph.NumConcepts(), tc.graph.NumEdges())
	}
	return nil
}

func (tc *TestContext) removeConcept(name string) error {
	id, err := tc.graph.Concept(name)
	if err != nil {
		return err
	}
	return tc.graph.RemoveConcept(id)
}

func (tc *TestContext) graphConsistent() error {
	return tc.graph.Validate()
}

func (tc *TestContext) graphSurvivesSnapshot() error {
	data, err := json.Marshal(tc.graph.Snapshot())
	if err != nil {
		return err
	}
	var snap cag.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	g, err := cag.FromSnapshot(snap)
	if err != nil {
		return err
	}
	tc.graph = g
	return g.Validate()
}

// ---- MCP steps ----

func (tc *TestContext) mcpServerRunning() error {
	if tc.server != nil {
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(tc.dataDir, logger)
	if err != nil {
		return err
	}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(tc.ctx)

	tc.serverStore = st
	tc.server = mcp.NewServerWithStore(st, "acceptance", logger, inR, outW)
	tc.serverIn = inW
	tc.serverOut = bufio.NewReader(outR)
	tc.serverCancel = cancel

	go func() {
		_ = tc.server.Start(ctx)
		outW.Close()
	}()
	return nil
}

func (tc *TestContext) stopServer() {
	if tc.server == nil {
		return
	}
	tc.serverCancel()
	tc.serverIn.Close()
	tc.server.Stop()
	tc.server = nil
}

// sendRequest writes one JSON-RPC request and reads its response line
func (tc *TestContext) sendRequest(method string, params any) (map[string]any, error) {
	if err := tc.mcpServerRunning(); err != nil {
		return nil, err
	}
	tc.requestID++
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      tc.requestID,
		"method":  method,
		"params":  params,
	}
	reqJSON, _ := json.Marshal(req)
	reqJSON = append(reqJSON, '\n')
	if _, err := tc.serverIn.Write(reqJSON); err != nil {
		return nil, err
	}

	line, err := tc.serverOut.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

func (tc *TestContext) sendResult(method string, params any) error {
	resp, err := tc.sendRequest(method, params)
	if err != nil {
		return err
	}
	result, ok := resp["result"].(map[string]any)
	if !ok {
		return fmt.Errorf("invalid response format: %v", resp)
	}
	tc.lastResponse = result
	return nil
}

func (tc *TestContext) sendMCPInitialize() error {
	return tc.sendResult("initialize", map[string]any{})
}

func (tc *TestContext) checkValidInitResponse() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if _, ok := tc.lastResponse["protocolVersion"]; !ok {
		return fmt.Errorf("protocolVersion missing")
	}
	return nil
}

func (tc *TestContext) checkProtocolVersion(version string) error {
	if v, ok := tc.lastResponse["protocolVersion"].(string); !ok || v != version {
		return fmt.Errorf("expected protocol version %s, got %v", version, tc.lastResponse["protocolVersion"])
	}
	return nil
}

func (tc *TestContext) checkServerName(name string) error {
	info, ok := tc.lastResponse["serverInfo"].(map[string]any)
	if !ok {
		return fmt.Errorf("serverInfo missing")
	}
	if n, ok := info["name"].(string); !ok || n != name {
		return fmt.Errorf("expected server name %s, got %v", name, info["name"])
	}
	return nil
}

func (tc *TestContext) requestToolsList() error {
	return tc.sendResult("tools/list", map[string]any{})
}

func (tc *TestContext) requestResourcesList() error {
	return tc.sendResult("resources/list", map[string]any{})
}

func (tc *TestContext) checkListContains(item string) error {
	for _, key := range []string{"tools", "resources"} {
		list, ok := tc.lastResponse[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			m, _ := entry.(map[string]any)
			if m["name"] == item || m["uri"] == item {
				return nil
			}
		}
	}
	return fmt.Errorf("list does not contain %q", item)
}

func (tc *TestContext) callMCPTool(tool string) error {
	return tc.callMCPToolWithArguments(tool, nil)
}

func (tc *TestContext) callMCPToolWithArguments(tool string, doc *godog.DocString) error {
	args := map[string]any{}
	if doc != nil && strings.TrimSpace(doc.Content) != "" {
		if err := json.Unmarshal([]byte(doc.Content), &args); err != nil {
			return fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if err := tc.sendResult("tools/call", map[string]any{"name": tool, "arguments": args}); err != nil {
		return err
	}
	tc.lastIsError, _ = tc.lastResponse["isError"].(bool)
	tc.lastText = ""
	if content, ok := tc.lastResponse["content"].([]any); ok && len(content) > 0 {
		first, _ := content[0].(map[string]any)
		tc.lastText, _ = first["text"].(string)
	}
	return nil
}

func (tc *TestContext) checkSuccessResponse() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if tc.lastIsError {
		return fmt.Errorf("expected success, got error: %s", tc.lastText)
	}
	return nil
}

func (tc *TestContext) checkErrorResponse() error {
	if !tc.lastIsError {
		return fmt.Errorf("expected an error response, got: %s", tc.lastText)
	}
	return nil
}

func (tc *TestContext) toolResultContains(text string) error {
	if !strings.Contains(tc.lastText, text) {
		return fmt.Errorf("tool result does not contain %q: %s", text, tc.lastText)
	}
	return nil
}

// toolResultField compares one top-level field of the JSON tool result
func (tc *TestContext) toolResultField(field, want string) error {
	var result map[string]any
	if err := json.Unmarshal([]byte(tc.lastText), &result); err != nil {
		return fmt.Errorf("tool result is not a JSON object: %s", tc.lastText)
	}
	got, _ := json.Marshal(result[field])
	if string(got) != want {
		return fmt.Errorf("expected %s to be %s, got %s", field, want, got)
	}
	return nil
}

func (tc *TestContext) storedGraphHasIndicators(graph, concept, names string) error {
	if tc.serverStore == nil {
		return fmt.Errorf("MCP server not running")
	}
	g, err := tc.serverStore.LoadGraph(tc.ctx, graph)
	if err != nil {
		return err
	}
	tc.graph = g
	return tc.conceptHasIndicators(concept, names)
}

// ---- CLI steps ----

func ensureCLIBinary() (string, error) {
	binaryOnce.Do(func() {
		if p := os.Getenv("TRIBUTARY_TEST_BINARY"); p != "" {
			if _, err := os.Stat(p); err == nil {
				binaryPath = p
				return
			}
		}
		out := filepath.Join(os.TempDir(), "tributary-test")
		cmd := exec.Command("go", "build", "-o", out, ".")
		cmd.Dir = filepath.Join("..", "..")
		if output, err := cmd.CombinedOutput(); err != nil {
			binaryErr = fmt.Errorf("failed to build test binary: %w\n%s", err, output)
			return
		}
		binaryPath = out
	})
	return binaryPath, binaryErr
}

// splitCommandLine splits on spaces, keeping single-quoted words together
func splitCommandLine(line string) []string {
	var parts []string
	var cur strings.Builder
	quoted, started := false, false
	for _, r := range line {
		switch {
		case r == '\'':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				parts = append(parts, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		parts = append(parts, cur.String())
	}
	return parts
}

func (tc *TestContext) tributaryInstalled() error {
	_, err := ensureCLIBinary()
	return err
}

func (tc *TestContext) writeFile(name string, doc *godog.DocString) error {
	return os.WriteFile(filepath.Join(tc.dataDir, name), []byte(doc.Content), 0644)
}

// runCLICommand runs "tributary ..." against the scenario's data directory.
// $DATA in arguments expands to that directory.
func (tc *TestContext) runCLICommand(cmdLine string) error {
	parts := splitCommandLine(cmdLine)
	if len(parts) == 0 || parts[0] != "tributary" {
		return fmt.Errorf("unsupported command %q", cmdLine)
	}
	bin, err := ensureCLIBinary()
	if err != nil {
		return err
	}
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "$DATA", tc.dataDir)
	}

	cmd := exec.Command(bin, parts[1:]...)
	cmd.Env = append(os.Environ(), config.EnvDataDir+"="+tc.dataDir, config.EnvLogLevel+"=error")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	tc.lastCLIStdout = stdout.String()
	tc.lastCLIStderr = stderr.String()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		tc.lastCLIExitCode = exitErr.ExitCode()
	case err != nil:
		tc.lastCLIExitCode = -1
		return err
	default:
		tc.lastCLIExitCode = 0
	}
	return nil
}

func (tc *TestContext) checkCommandSucceeded() error {
	if tc.lastCLIExitCode != 0 {
		return fmt.Errorf("expected exit code 0, got %d; stderr: %s", tc.lastCLIExitCode, tc.lastCLIStderr)
	}
	return nil
}

func (tc *TestContext) checkCommandFailed() error {
	if tc.lastCLIExitCode == 0 {
		return fmt.Errorf("expected command to fail but it succeeded; stdout: %s", tc.lastCLIStdout)
	}
	return nil
}

func (tc *TestContext) outputShouldContain(text string) error {
	combined := tc.lastCLIStdout + tc.lastCLIStderr
	if !strings.Contains(combined, text) {
		return fmt.Errorf("output did not contain %q; stdout: %s stderr: %s", text, tc.lastCLIStdout, tc.lastCLIStderr)
	}
	return nil
}

func (tc *TestContext) errorShouldContain(text string) error {
	errOut := tc.lastCLIStderr
	if errOut == "" {
		errOut = tc.lastCLIStdout
	}
	if !strings.Contains(strings.ToLower(errOut), strings.ToLower(text)) {
		return fmt.Errorf("error output did not contain %q; stderr: %s", text, tc.lastCLIStderr)
	}
	return nil
}

func (tc *TestContext) checkCommandFailedWithMessage(msg string) error {
	if tc.lastCLIExitCode == 0 {
		return fmt.Errorf("expected command to fail but it succeeded")
	}
	return tc.errorShouldContain(msg)
}
