// Package store persists causal analysis graphs in a local SQLite database
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/catalog"
	"github.com/CanopyHQ/tributary/internal/config"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DBFile is the database file name inside the data directory
const DBFile = "graphs.db"

// ErrGraphNotFound is returned when no graph is stored under a name
var ErrGraphNotFound = fmt.Errorf("graph %w", cag.ErrNotFound)

// GraphInfo summarises one stored graph
type GraphInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Concepts   int       `json:"concepts"`
	Indicators int       `json:"indicators"`
	Relations  int       `json:"relations"`
	Statements int       `json:"statements"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store provides graph storage using SQLite
type Store struct {
	db      *sql.DB
	dataDir string
	logger  *slog.Logger

	catalog *catalog.Catalog
}

// NewStore opens the store in the data directory named by CAG_DATA_DIR
func NewStore() (*Store, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return Open(dataDir, slog.Default())
}

// Open opens (creating if needed) the store under dataDir
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, dataDir: dataDir, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	s.catalog, err = catalog.New(db, catalog.NewLocalEmbedder(), logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open indicator catalog: %w", err)
	}

	fmt.Fprintf(os.Stderr, "📁 Graph store: %s\n", dbPath)
	return s, nil
}

// DB returns the underlying SQL database handle
func (s *Store) DB() *sql.DB { return s.db }

// Catalog returns the indicator catalog sharing this database
func (s *Store) Catalog() *catalog.Catalog { return s.catalog }

// DataDir returns the directory holding the database
func (s *Store) DataDir() string { return s.dataDir }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graphs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS concepts (
		graph_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (graph_id, name)
	);

	CREATE TABLE IF NOT EXISTS indicators (
		graph_id TEXT NOT NULL,
		concept TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		source TEXT,
		unit TEXT,
		mean REAL DEFAULT 0,
		value REAL DEFAULT 0,
		stdev REAL DEFAULT 0,
		time TEXT,
		aggaxes TEXT,
		aggregation_method TEXT,
		timeseries TEXT,
		samples TEXT,
		PRIMARY KEY (graph_id, concept, name)
	);

	CREATE TABLE IF NOT EXISTS relations (
		graph_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		name TEXT NOT NULL,
		beta REAL DEFAULT 1.0,
		PRIMARY KEY (graph_id, position)
	);

	CREATE TABLE IF NOT EXISTS evidence (
		graph_id TEXT NOT NULL,
		relation INTEGER NOT NULL,
		position INTEGER NOT NULL,
		subject_adjective TEXT,
		subject_polarity INTEGER,
		subject_concept TEXT NOT NULL,
		object_adjective TEXT,
		object_polarity INTEGER,
		object_concept TEXT NOT NULL,
		PRIMARY KEY (graph_id, relation, position)
	);
	CREATE INDEX IF NOT EXISTS idx_graphs_updated_at ON graphs(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

var childTables = []string{"concepts", "indicators", "relations", "evidence"}

// SaveGraph stores g under its name, replacing whatever was stored before.
// The graph keeps its ID across saves.
func (s *Store) SaveGraph(ctx context.Context, g *cag.Graph) (*GraphInfo, error) {
	if g.Name() == "" {
		return nil, errors.New("graph name is required")
	}
	snap := g.Snapshot()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	info := &GraphInfo{Name: snap.Name, UpdatedAt: now}
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM graphs WHERE name = ?`, snap.Name).
		Scan(&info.ID, &info.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		info.ID = uuid.NewString()
		info.CreatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graphs (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			info.ID, snap.Name, now, now); err != nil {
			return nil, fmt.Errorf("failed to insert graph: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up graph: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE graphs SET updated_at = ? WHERE id = ?`, now, info.ID); err != nil {
			return nil, fmt.Errorf("failed to touch graph: %w", err)
		}
		for _, table := range childTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE graph_id = ?`, info.ID); err != nil {
				return nil, fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
	}

	for i, c := range snap.Concepts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concepts (graph_id, position, name) VALUES (?, ?, ?)`, info.ID, i, c.Name); err != nil {
			return nil, fmt.Errorf("failed to save concept %q: %w", c.Name, err)
		}
		for j, ind := range c.Indicators {
			if err := insertIndicator(ctx, tx, info.ID, c.Name, j, ind); err != nil {
				return nil, err
			}
			info.Indicators++
		}
	}
	info.Concepts = len(snap.Concepts)

	for i, e := range snap.Edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (graph_id, position, source, target, name, beta) VALUES (?, ?, ?, ?, ?, ?)`,
			info.ID, i, e.Source, e.Target, e.Name, e.Beta); err != nil {
			return nil, fmt.Errorf("failed to save relation %q: %w", e.Name, err)
		}
		for j, st := range e.Evidence {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO evidence (graph_id, relation, position,
					subject_adjective, subject_polarity, subject_concept,
					object_adjective, object_polarity, object_concept)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				info.ID, i, j,
				st.Subject.Adjective, st.Subject.Polarity, st.Subject.Concept,
				st.Object.Adjective, st.Object.Polarity, st.Object.Concept); err != nil {
				return nil, fmt.Errorf("failed to save evidence: %w", err)
			}
			info.Statements++
		}
	}
	info.Relations = len(snap.Edges)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit graph: %w", err)
	}
	s.logger.Debug("saved graph", "graph", info.Name, "id", info.ID,
		"concepts", info.Concepts, "relations", info.Relations)
	return info, nil
}

func insertIndicator(ctx context.Context, tx *sql.Tx, graphID, concept string, pos int, ind cag.Indicator) error {
	aggaxes, err := json.Marshal(ind.AggAxes)
	if err != nil {
		return fmt.Errorf("failed to encode aggaxes of %q: %w", ind.Name, err)
	}
	timeseries, err := encodeFloats(ind.Timeseries)
	if err != nil {
		return fmt.Errorf("failed to encode timeseries of %q: %w", ind.Name, err)
	}
	samples, err := encodeFloats(ind.Samples)
	if err != nil {
		return fmt.Errorf("failed to encode samples of %q: %w", ind.Name, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO indicators (graph_id, concept, position, name, source, unit, mean, value, stdev,
			time, aggaxes, aggregation_method, timeseries, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		graphID, concept, pos, ind.Name, ind.Source, ind.Unit, ind.Mean, ind.Value, ind.Stdev,
		ind.Time, string(aggaxes), ind.AggregationMethod, timeseries, samples)
	if err != nil {
		return fmt.Errorf("failed to save indicator %q on %q: %w", ind.Name, concept, err)
	}
	return nil
}

// encodeFloats stores a series as a JSON list of strconv strings so NaN and
// ±Inf survive; JSON numbers cannot carry them
func encodeFloats(fs []float64) (string, error) {
	if fs == nil {
		return "null", nil
	}
	strs := make([]string, len(fs))
	for i, f := range fs {
		strs[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	data, err := json.Marshal(strs)
	return string(data), err
}

func decodeFloats(s string) ([]float64, error) {
	var strs []string
	if err := json.Unmarshal([]byte(s), &strs); err != nil {
		// plain JSON numbers, written before series were stored as strings
		var fs []float64
		if numErr := json.Unmarshal([]byte(s), &fs); numErr != nil {
			return nil, err
		}
		return fs, nil
	}
	if strs == nil {
		return nil, nil
	}
	fs := make([]float64, len(strs))
	for i, str := range strs {
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, err
		}
		fs[i] = f
	}
	return fs, nil
}

// nanIfNull undoes SQLite storing a NaN REAL as NULL
func nanIfNull(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

func (s *Store) graphID(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM graphs WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up graph: %w", err)
	}
	return id, nil
}

// Exists reports whether a graph is stored under name
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.graphID(ctx, name)
	if errors.Is(err, ErrGraphNotFound) {
		return false, nil
	}
	return err == nil, err
}

// LoadGraph rebuilds the named graph. Fitted densities are not stored, so every
// edge of the result is unfitted.
func (s *Store) LoadGraph(ctx context.Context, name string, opts ...cag.Option) (*cag.Graph, error) {
	id, err := s.graphID(ctx, name)
	if err != nil {
		return nil, err
	}
	snap := cag.Snapshot{Name: name}

	byConcept := make(map[string]int)
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM concepts WHERE graph_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load concepts: %w", err)
	}
	for rows.Next() {
		var c cag.ConceptSnapshot
		if err := rows.Scan(&c.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		byConcept[c.Name] = len(snap.Concepts)
		snap.Concepts = append(snap.Concepts, c)
	}
	rows.Close()

	if err := s.loadIndicators(ctx, id, &snap, byConcept); err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, id, &snap); err != nil {
		return nil, err
	}

	g, err := cag.FromSnapshot(snap, opts...)
	if err != nil {
		return nil, fmt.Errorf("stored graph %q is inconsistent: %w", name, err)
	}
	return g, nil
}

func (s *Store) loadIndicators(ctx context.Context, id string, snap *cag.Snapshot, byConcept map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT concept, name, COALESCE(source, ''), COALESCE(unit, ''), mean, value, stdev,
			COALESCE(time, ''), COALESCE(aggaxes, 'null'), COALESCE(aggregation_method, ''),
			COALESCE(timeseries, 'null'), COALESCE(samples, 'null')
		FROM indicators WHERE graph_id = ? ORDER BY concept, position`, id)
	if err != nil {
		return fmt.Errorf("failed to load indicators: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var concept, aggaxes, timeseries, samples string
		var mean, value, stdev sql.NullFloat64
		var ind cag.Indicator
		if err := rows.Scan(&concept, &ind.Name, &ind.Source, &ind.Unit, &mean, &value, &stdev,
			&ind.Time, &aggaxes, &ind.AggregationMethod, &timeseries, &samples); err != nil {
			return fmt.Errorf("failed to scan indicator: %w", err)
		}
		ind.Mean, ind.Value, ind.Stdev = nanIfNull(mean), nanIfNull(value), nanIfNull(stdev)
		if err := json.Unmarshal([]byte(aggaxes), &ind.AggAxes); err != nil {
			return fmt.Errorf("failed to decode aggaxes of %q on %q: %w", ind.Name, concept, err)
		}
		if ind.Timeseries, err = decodeFloats(timeseries); err != nil {
			return fmt.Errorf("failed to decode timeseries of %q on %q: %w", ind.Name, concept, err)
		}
		if ind.Samples, err = decodeFloats(samples); err != nil {
			return fmt.Errorf("failed to decode samples of %q on %q: %w", ind.Name, concept, err)
		}

		i, ok := byConcept[concept]
		if !ok {
			s.logger.Warn("dropping indicator of unknown concept", "concept", concept, "indicator", ind.Name)
			continue
		}
		snap.Concepts[i].Indicators = append(snap.Concepts[i].Indicators, ind)
	}
	return rows.Err()
}

func (s *Store) loadRelations(ctx context.Context, id string, snap *cag.Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, target, name, beta FROM relations WHERE graph_id = ? ORDER BY position`, id)
	if err != nil {
		return fmt.Errorf("failed to load relations: %w", err)
	}
	for rows.Next() {
		var e cag.EdgeSnapshot
		if err := rows.Scan(&e.Source, &e.Target, &e.Name, &e.Beta); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan relation: %w", err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT relation, COALESCE(subject_adjective, ''), subject_polarity, subject_concept,
			COALESCE(object_adjective, ''), object_polarity, object_concept
		FROM evidence WHERE graph_id = ? ORDER BY relation, position`, id)
	if err != nil {
		return fmt.Errorf("failed to load evidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rel int
		var st cag.Statement
		if err := rows.Scan(&rel, &st.Subject.Adjective, &st.Subject.Polarity, &st.Subject.Concept,
			&st.Object.Adjective, &st.Object.Polarity, &st.Object.Concept); err != nil {
			return fmt.Errorf("failed to scan evidence: %w", err)
		}
		if rel < 0 || rel >= len(snap.Edges) {
			continue
		}
		snap.Edges[rel].Evidence = append(snap.Edges[rel].Evidence, st)
	}
	return rows.Err()
}

// ListGraphs returns every stored graph, most recently updated first
func (s *Store) ListGraphs(ctx context.Context) ([]GraphInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_at, g.updated_at,
			(SELECT COUNT(*) FROM concepts c WHERE c.graph_id = g.id),
			(SELECT COUNT(*) FROM indicators i WHERE i.graph_id = g.id),
			(SELECT COUNT(*) FROM relations r WHERE r.graph_id = g.id),
			(SELECT COUNT(*) FROM evidence e WHERE e.graph_id = g.id)
		FROM graphs g ORDER BY g.updated_at DESC, g.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	defer rows.Close()

	var out []GraphInfo
	for rows.Next() {
		var info GraphInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt, &info.UpdatedAt,
			&info.Concepts, &info.Indicators, &info.Relations, &info.Statements); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteGraph removes the named graph
func (s *Store) DeleteGraph(ctx context.Context, name string) error {
	id, err := s.graphID(ctx, name)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, table := range childTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE graph_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete graph: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of stored graphs
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graphs`).Scan(&count)
	return count, err
}

// Size returns the database file size as a human-readable string
func (s *Store) Size() (string, error) {
	info, err := os.Stat(filepath.Join(s.dataDir, DBFile))
	if err != nil {
		return "unknown", err
	}

	size := info.Size()
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size), nil
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024), nil
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)), nil
	}
}

// LastActivity returns when any graph was last saved; zero if none has been
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM graphs`).Scan(&last); err != nil {
		return time.Time{}, err
	}
	if !last.Valid || last.String == "" {
		return time.Time{}, nil
	}
	// MAX() drops the column type, so the driver hands back its text form
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, last.String); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", last.String)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
