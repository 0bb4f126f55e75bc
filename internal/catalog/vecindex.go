package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

// vecIndex wraps a sqlite-vec vec0 table for KNN over catalog embeddings.
// When the extension cannot be loaded every operation is a no-op and the
// catalog falls back to a linear cosine scan.
type vecIndex struct {
	db         *sql.DB
	dimensions int
	available  bool
}

type vecResult struct {
	EntryID  string
	Distance float64
}

func newVecIndex(db *sql.DB, dimensions int, logger *slog.Logger) *vecIndex {
	vi := &vecIndex{db: db, dimensions: dimensions}
	if err := vi.ensureSchema(logger); err != nil {
		logger.Warn("sqlite-vec not available, using linear scan", "error", err)
		return vi
	}
	vi.available = true
	return vi
}

func (vi *vecIndex) ensureSchema(logger *slog.Logger) error {
	var version string
	if err := vi.db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		return fmt.Errorf("vec_version() failed: %w", err)
	}

	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS catalog_vec_meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("failed to create catalog_vec_meta: %w", err)
	}
	// vec0 rows are addressed by integer rowid; catalog entries by text id
	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS catalog_vec_ids (
		vec_id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id TEXT UNIQUE NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create vec ID mapping: %w", err)
	}

	var stored string
	err := vi.db.QueryRow(`SELECT value FROM catalog_vec_meta WHERE key = 'dimensions'`).Scan(&stored)
	if err == nil && stored != strconv.Itoa(vi.dimensions) {
		logger.Warn("embedding dimensions changed, rebuilding catalog index", "from", stored, "to", vi.dimensions)
		vi.db.Exec(`DROP TABLE IF EXISTS catalog_embeddings`)
		vi.db.Exec(`DELETE FROM catalog_vec_ids`)
	}

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS catalog_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		vi.dimensions,
	)
	if _, err := vi.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}
	vi.db.Exec(`INSERT OR REPLACE INTO catalog_vec_meta (key, value) VALUES ('dimensions', ?)`, strconv.Itoa(vi.dimensions))
	return nil
}

// Insert adds or replaces an entry's embedding
func (vi *vecIndex) Insert(entryID string, embedding []float32) error {
	if !vi.available || len(embedding) != vi.dimensions {
		return nil
	}

	var vecID int64
	err := vi.db.QueryRow(`SELECT vec_id FROM catalog_vec_ids WHERE entry_id = ?`, entryID).Scan(&vecID)
	if err == sql.ErrNoRows {
		result, err := vi.db.Exec(`INSERT INTO catalog_vec_ids (entry_id) VALUES (?)`, entryID)
		if err != nil {
			return fmt.Errorf("failed to create vec ID mapping: %w", err)
		}
		vecID, _ = result.LastInsertId()
	} else if err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	// vec0 has no upsert
	vi.db.Exec(`DELETE FROM catalog_embeddings WHERE rowid = ?`, vecID)
	if _, err := vi.db.Exec(`INSERT INTO catalog_embeddings (rowid, embedding) VALUES (?, ?)`, vecID, blob); err != nil {
		return fmt.Errorf("failed to insert into vec0: %w", err)
	}
	return nil
}

// Search returns up to limit entry IDs ordered by cosine distance
func (vi *vecIndex) Search(query []float32, limit int) ([]vecResult, error) {
	if !vi.available {
		return nil, fmt.Errorf("vec index not available")
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	rows, err := vi.db.Query(`
		SELECT rowid, distance
		FROM catalog_embeddings
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, err
	}
	type hit struct {
		rowID    int64
		distance float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.rowID, &h.distance); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	rows.Close()
	if len(hits) == 0 {
		return nil, rows.Err()
	}

	placeholders := make([]string, len(hits))
	args := make([]any, len(hits))
	for i, h := range hits {
		placeholders[i] = "?"
		args[i] = h.rowID
	}
	mapRows, err := vi.db.Query(
		`SELECT vec_id, entry_id FROM catalog_vec_ids WHERE vec_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer mapRows.Close()

	ids := make(map[int64]string, len(hits))
	for mapRows.Next() {
		var vecID int64
		var entryID string
		if err := mapRows.Scan(&vecID, &entryID); err != nil {
			continue
		}
		ids[vecID] = entryID
	}

	var out []vecResult
	for _, h := range hits {
		if id, ok := ids[h.rowID]; ok {
			out = append(out, vecResult{EntryID: id, Distance: h.distance})
		}
	}
	return out, nil
}

// Delete removes an entry from the index
func (vi *vecIndex) Delete(entryID string) {
	if !vi.available {
		return
	}
	var vecID int64
	if err := vi.db.QueryRow(`SELECT vec_id FROM catalog_vec_ids WHERE entry_id = ?`, entryID).Scan(&vecID); err != nil {
		return
	}
	vi.db.Exec(`DELETE FROM catalog_embeddings WHERE rowid = ?`, vecID)
	vi.db.Exec(`DELETE FROM catalog_vec_ids WHERE vec_id = ?`, vecID)
}
