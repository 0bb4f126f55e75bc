// Package catalog keeps a searchable list of known indicators and proposes the
// ones that best ground a concept
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/CanopyHQ/tributary/internal/cag"
)

// Entry is one indicator the catalog knows about
type Entry struct {
	Name        string `json:"name" yaml:"name"`
	Source      string `json:"source" yaml:"source"`
	Unit        string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ID is the catalog key of e
func (e Entry) ID() string { return e.Source + "/" + e.Name }

func (e Entry) text() string {
	return strings.TrimSpace(e.Name + " " + e.Description)
}

// Suggestion is a ranked catalog match
type Suggestion struct {
	Entry
	Score float64 `json:"score"`
}

// GroundResult reports what Ground did to a node
type GroundResult struct {
	Attached []string `json:"attached"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Catalog stores entries and their embeddings alongside the graph tables
type Catalog struct {
	db       *sql.DB
	embedder Embedder
	vec      *vecIndex
	logger   *slog.Logger
}

// New opens the catalog tables in db, creating them if needed
func New(db *sql.DB, embedder Embedder, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indicator_catalog (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			source TEXT NOT NULL,
			unit TEXT,
			description TEXT,
			embedding TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_indicator_catalog_name ON indicator_catalog(name);
	`); err != nil {
		return nil, fmt.Errorf("failed to create catalog table: %w", err)
	}
	return &Catalog{
		db:       db,
		embedder: embedder,
		vec:      newVecIndex(db, embedder.Dimensions(), logger),
		logger:   logger,
	}, nil
}

// VectorSearch reports whether KNN queries go through sqlite-vec
func (c *Catalog) VectorSearch() bool { return c.vec.available }

// Add inserts or updates entries and returns how many were written
func (c *Catalog) Add(ctx context.Context, entries ...Entry) (int, error) {
	n := 0
	for _, e := range entries {
		if e.Name == "" || e.Source == "" {
			return n, errors.New("catalog entry needs a name and a source")
		}
		emb, err := c.embedder.Embed(e.text())
		if err != nil {
			return n, fmt.Errorf("failed to embed %q: %w", e.Name, err)
		}
		embJSON, _ := json.Marshal(emb)
		if _, err := c.db.ExecContext(ctx, `
			INSERT INTO indicator_catalog (id, name, source, unit, description, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET unit = excluded.unit, description = excluded.description,
				embedding = excluded.embedding`,
			e.ID(), e.Name, e.Source, e.Unit, e.Description, string(embJSON)); err != nil {
			return n, fmt.Errorf("failed to store %q: %w", e.Name, err)
		}
		if err := c.vec.Insert(e.ID(), emb); err != nil {
			c.logger.Warn("vec index insert failed", "entry", e.ID(), "error", err)
		}
		n++
	}
	return n, nil
}

// Remove deletes one entry
func (c *Catalog) Remove(ctx context.Context, source, name string) error {
	id := Entry{Name: name, Source: source}.ID()
	res, err := c.db.ExecContext(ctx, `DELETE FROM indicator_catalog WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog entry %s: %w", id, cag.ErrNotFound)
	}
	c.vec.Delete(id)
	return nil
}

// Count returns the number of entries
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indicator_catalog`).Scan(&n)
	return n, err
}

// List returns every entry ordered by source and name
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, source, COALESCE(unit, ''), COALESCE(description, '') FROM indicator_catalog ORDER BY source, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Source, &e.Unit, &e.Description); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SuggestIndicators ranks catalog entries by similarity to a concept name
func (c *Catalog) SuggestIndicators(ctx context.Context, concept string, k int) ([]Suggestion, error) {
	if k <= 0 {
		k = 5
	}
	query, err := c.embedder.Embed(concept)
	if err != nil {
		return nil, fmt.Errorf("failed to embed concept: %w", err)
	}

	if c.vec.available {
		hits, err := c.vec.Search(query, k)
		if err == nil {
			return c.resolve(ctx, hits)
		}
		c.logger.Warn("vec search failed, using linear scan", "error", err)
	}
	return c.linearScan(ctx, query, k)
}

func (c *Catalog) resolve(ctx context.Context, hits []vecResult) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(hits))
	for _, h := range hits {
		var s Suggestion
		err := c.db.QueryRowContext(ctx,
			`SELECT name, source, COALESCE(unit, ''), COALESCE(description, '') FROM indicator_catalog WHERE id = ?`, h.EntryID).
			Scan(&s.Name, &s.Source, &s.Unit, &s.Description)
		if err != nil {
			continue
		}
		s.Score = 1 - h.Distance
		out = append(out, s)
	}
	return out, nil
}

func (c *Catalog) linearScan(ctx context.Context, query []float32, k int) ([]Suggestion, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, source, COALESCE(unit, ''), COALESCE(description, ''), COALESCE(embedding, '[]') FROM indicator_catalog`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var s Suggestion
		var embJSON string
		if err := rows.Scan(&s.Name, &s.Source, &s.Unit, &s.Description, &embJSON); err != nil {
			continue
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			continue
		}
		s.Score = cosineSimilarity(query, emb)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Ground attaches the top k suggestions for n's concept as indicators. Names the
// node already carries are reported as skipped; the unit is copied when known.
func (c *Catalog) Ground(ctx context.Context, n *cag.Node, k int) (GroundResult, error) {
	var res GroundResult
	suggestions, err := c.SuggestIndicators(ctx, n.Name(), k)
	if err != nil {
		return res, err
	}
	for _, s := range suggestions {
		if err := n.AddIndicator(s.Name, s.Source); err != nil {
			if errors.Is(err, cag.ErrDuplicate) {
				res.Skipped = append(res.Skipped, s.Name)
				continue
			}
			return res, err
		}
		if s.Unit != "" {
			if err := n.SetIndicatorAttribute(s.Name, cag.AttrUnit, cag.StringValue(s.Unit)); err != nil {
				return res, err
			}
		}
		res.Attached = append(res.Attached, s.Name)
	}
	return res, nil
}
