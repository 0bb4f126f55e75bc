// Package mcp implements the Model Context Protocol server for tributary
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/CanopyHQ/tributary/internal/bundle"
	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/config"
	"github.com/CanopyHQ/tributary/internal/store"
)

// Version is reported in serverInfo; cmd sets it from the build
var Version = "dev"

// Server implements the MCP protocol over stdio
type Server struct {
	store        *store.Store
	scanner      *bufio.Scanner
	out          io.Writer
	logger       *slog.Logger
	defaultGraph string

	// serialises load-modify-save cycles
	mu sync.Mutex
}

// StoreStats contains statistics about the graph store
type StoreStats struct {
	TotalGraphs  int    `json:"total_graphs"`
	DatabaseSize string `json:"database_size"`
	LastActivity string `json:"last_activity"`
	VectorSearch bool   `json:"vector_search"`
}

// NewServer creates a server reading stdin and writing stdout
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize graph store: %w", err)
	}
	return NewServerWithStore(st, cfg.DefaultGraph, logger, os.Stdin, os.Stdout), nil
}

// NewServerWithStore creates a server over an open store and explicit streams
func NewServerWithStore(st *store.Store, defaultGraph string, logger *slog.Logger, in io.Reader, out io.Writer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultGraph == "" {
		defaultGraph = config.Default().DefaultGraph
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &Server{
		store:        st,
		scanner:      scanner,
		out:          out,
		logger:       logger,
		defaultGraph: defaultGraph,
	}
}

// Start runs the request loop until stdin closes
func (s *Server) Start(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, "🌊 tributary MCP server ready")

	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var request JSONRPCRequest
		if err := json.Unmarshal(line, &request); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}
		s.handleRequest(ctx, &request)
	}
	return s.scanner.Err()
}

// Stop closes the store
func (s *Server) Stop() {
	if s.store != nil {
		s.store.Close()
	}
}

// Stats returns statistics about the graph store
func (s *Server) Stats(ctx context.Context) StoreStats {
	count, _ := s.store.Count(ctx)
	size, _ := s.store.Size()
	last, _ := s.store.LastActivity(ctx)

	lastActivity := "never"
	if !last.IsZero() {
		lastActivity = last.Format(time.RFC3339)
	}
	return StoreStats{
		TotalGraphs:  count,
		DatabaseSize: size,
		LastActivity: lastActivity,
		VectorSearch: s.store.Catalog().VectorSearch(),
	}
}

func (s *Server) handleRequest(ctx context.Context, req *JSONRPCRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "notifications/initialized":
		// no response to notifications
	case "tools/list":
		s.sendResult(req.ID, map[string]any{"tools": toolDefinitions()})
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/list":
		s.handleResourcesList(req)
	case "resources/read":
		s.handleResourceRead(ctx, req)
	default:
		s.sendError(req.ID, -32601, "Method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	s.sendResult(req.ID, map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "tributary-mcp",
			"version": Version,
		},
	})
}

func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}
	tool, ok := toolHandlers[params.Name]
	if !ok {
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	result, err := tool(s, ctx, params.Arguments)
	var text []byte
	if err == nil {
		if text, err = json.MarshalIndent(result, "", "  "); err != nil {
			err = fmt.Errorf("failed to encode result: %w", err)
		}
	}
	if err != nil {
		s.logger.Info("tool call failed", "tool", params.Name, "error", err)
		s.sendResult(req.ID, map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": fmt.Sprintf("Error: %v", err)},
			},
			"isError": true,
		})
		return
	}

	s.sendResult(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	})
}

func (s *Server) handleResourcesList(req *JSONRPCRequest) {
	resources := []map[string]any{
		{
			"uri":         "tributary://graphs",
			"name":        "Graphs",
			"description": "Stored causal analysis graphs with their sizes",
			"mimeType":    "application/json",
		},
		{
			"uri":         "tributary://stats",
			"name":        "Store Statistics",
			"description": "Statistics about the graph store",
			"mimeType":    "application/json",
		},
		{
			"uri":         "tributary://model",
			"name":        "Default Graph Model",
			"description": "Model description (variables, indicators, time step) of the default graph",
			"mimeType":    "application/json",
		},
	}
	s.sendResult(req.ID, map[string]any{"resources": resources})
}

func (s *Server) handleResourceRead(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	var content any
	var err error
	switch params.URI {
	case "tributary://graphs":
		content, err = s.store.ListGraphs(ctx)
	case "tributary://stats":
		content = s.Stats(ctx)
	case "tributary://model":
		var g *cag.Graph
		g, err = s.store.LoadGraph(ctx, s.defaultGraph, cag.WithLogger(s.logger))
		if err == nil {
			content = bundle.Describe(g)
		}
	default:
		s.sendError(req.ID, -32602, "Unknown resource", params.URI)
		return
	}
	if err != nil {
		s.sendError(req.ID, -32603, "Internal error", err.Error())
		return
	}

	text, _ := json.MarshalIndent(content, "", "  ")
	s.sendResult(req.ID, map[string]any{
		"contents": []map[string]any{
			{"uri": params.URI, "mimeType": "application/json", "text": string(text)},
		},
	})
}

// withGraph loads the graph named in args (or the default), runs fn and, when
// save is set and fn succeeded, writes the graph back
func (s *Server) withGraph(ctx context.Context, args map[string]any, save bool, fn func(g *cag.Graph) (any, error)) (any, error) {
	name := optionalString(args, "graph", s.defaultGraph)

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.store.LoadGraph(ctx, name, cag.WithLogger(s.logger))
	if err != nil {
		if errors.Is(err, store.ErrGraphNotFound) {
			return nil, fmt.Errorf("graph %q does not exist, create it with create_graph", name)
		}
		return nil, err
	}
	result, err := fn(g)
	if err != nil {
		return nil, err
	}
	if save {
		if _, err := s.store.SaveGraph(ctx, g); err != nil {
			return nil, fmt.Errorf("failed to save graph: %w", err)
		}
	}
	return result, nil
}

// JSONRPCRequest is one inbound JSON-RPC 2.0 message
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is one outbound JSON-RPC 2.0 message
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) sendResult(id any, result any) {
	data, _ := json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
	fmt.Fprintln(s.out, string(data))
}

func (s *Server) sendError(id any, code int, message, data string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
	respData, _ := json.Marshal(resp)
	fmt.Fprintln(s.out, string(respData))
}
