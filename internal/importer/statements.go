// Package importer loads causal statements, free text and indicator groundings
// into a graph
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/extract"
)

// DefaultRelation names edges whose source record carries no relation
const DefaultRelation = "influences"

// ImportResult tracks import statistics
type ImportResult struct {
	RecordsProcessed int           `json:"records_processed"`
	StatementsAdded  int           `json:"statements_added"`
	ConceptsCreated  int           `json:"concepts_created"`
	EdgesCreated     int           `json:"edges_created"`
	IndicatorsSet    int           `json:"indicators_set,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// StatementRecord is one line of a statements file. Subject and object accept
// either {"adjective","polarity","concept"} or ["adjective", polarity, "concept"].
type StatementRecord struct {
	Subject  cag.Event `json:"subject"`
	Object   cag.Event `json:"object"`
	Relation string    `json:"relation,omitempty"`
}

// Importer applies records to one graph
type Importer struct {
	graph *cag.Graph
}

// New creates an importer writing into g
func New(g *cag.Graph) *Importer {
	return &Importer{graph: g}
}

type counts struct{ concepts, edges int }

func (i *Importer) counts() counts {
	return counts{i.graph.NumConcepts(), i.graph.NumEdges()}
}

func (i *Importer) finish(result *ImportResult, before counts, start time.Time) {
	after := i.counts()
	result.ConceptsCreated = after.concepts - before.concepts
	result.EdgesCreated = after.edges - before.edges
	result.Duration = time.Since(start)
}

func (i *Importer) addStatement(rec StatementRecord) error {
	if rec.Subject.Concept == "" || rec.Object.Concept == "" {
		return fmt.Errorf("statement needs a subject and an object concept")
	}
	relation := rec.Relation
	if relation == "" {
		relation = DefaultRelation
	}
	_, err := i.graph.AddStatement(relation, cag.NewStatement(rec.Subject, rec.Object))
	return err
}

// ImportStatementsFile reads a statements file; see ImportStatements
func (i *Importer) ImportStatementsFile(ctx context.Context, filePath string) (*ImportResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(filePath), ".jsonl") {
		return i.importStatementLines(ctx, bytes.NewReader(data))
	}
	return i.ImportStatements(ctx, bytes.NewReader(data))
}

// ImportStatements accepts a JSON array of records, a single record, or JSONL.
// Bad JSONL lines are reported in Errors and skipped.
func (i *Importer) ImportStatements(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read statements: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &ImportResult{}, nil
	}

	var records []StatementRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case '{':
		var single StatementRecord
		if err := json.Unmarshal(trimmed, &single); err != nil {
			// more than one object: JSONL
			return i.importStatementLines(ctx, bytes.NewReader(trimmed))
		}
		records = []StatementRecord{single}
	default:
		return nil, fmt.Errorf("failed to parse JSON: unexpected %q", trimmed[0])
	}

	start := time.Now()
	result := &ImportResult{}
	before := i.counts()
	for n, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.RecordsProcessed++
		if err := i.addStatement(rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", n+1, err))
			continue
		}
		result.StatementsAdded++
	}
	i.finish(result, before, start)
	return result, nil
}

func (i *Importer) importStatementLines(ctx context.Context, r io.Reader) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}
	before := i.counts()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		result.RecordsProcessed++
		var rec StatementRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: parse error: %v", line, err))
			continue
		}
		if err := i.addStatement(rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		result.StatementsAdded++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	i.finish(result, before, start)
	return result, nil
}

// ImportText extracts causal statements from prose and files each under relation
// (DefaultRelation when empty). Each extracted statement counts as one record.
func (i *Importer) ImportText(ctx context.Context, r io.Reader, relation string) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	result := &ImportResult{}
	before := i.counts()

	extractions := extract.Extract(string(data))
	result.RecordsProcessed = len(extractions)
	for _, ex := range extractions {
		rec := StatementRecord{Subject: ex.Statement.Subject, Object: ex.Statement.Object, Relation: relation}
		if err := i.addStatement(rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%q: %v", ex.Sentence, err))
			continue
		}
		result.StatementsAdded++
	}
	i.finish(result, before, start)
	return result, nil
}
