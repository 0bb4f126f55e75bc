// Package bundle reads and writes portable graph files: the magic bytes CAGF,
// one version byte, then a gzip-compressed JSON payload.
package bundle

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/google/uuid"
)

// MagicBytes open every bundle: CAGF
var MagicBytes = []byte{0x43, 0x41, 0x47, 0x46}

// Version 1
const Version = 1

// Extension is the conventional file suffix
const Extension = ".cagf"

// Manifest describes a bundle
type Manifest struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Concepts    int       `json:"concepts"`
	Indicators  int       `json:"indicators"`
	Relations   int       `json:"relations"`
	Statements  int       `json:"statements"`
}

// Payload is the JSON content inside the gzip stream
type Payload struct {
	Manifest Manifest     `json:"manifest"`
	Graph    cag.Snapshot `json:"graph"`
}

// NewManifest fills the counts and identity fields from snap
func NewManifest(snap cag.Snapshot, description, author string) Manifest {
	m := Manifest{
		ID:          uuid.NewString(),
		Name:        snap.Name,
		Description: description,
		Author:      author,
		CreatedAt:   time.Now().UTC(),
		Concepts:    len(snap.Concepts),
		Relations:   len(snap.Edges),
	}
	for _, c := range snap.Concepts {
		m.Indicators += len(c.Indicators)
	}
	for _, e := range snap.Edges {
		m.Statements += len(e.Evidence)
	}
	return m
}

// Write encodes a bundle to w
func Write(w io.Writer, manifest Manifest, snap cag.Snapshot) error {
	if _, err := w.Write(MagicBytes); err != nil {
		return fmt.Errorf("failed to write magic bytes: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(Version)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(Payload{Manifest: manifest, Graph: snap}); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush payload: %w", err)
	}
	return nil
}

// Package writes g as a bundle file at outputPath
func Package(g *cag.Graph, manifest Manifest, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(f, manifest, g.Snapshot()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a bundle from r
func Read(r io.Reader) (*Payload, error) {
	magic := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if !bytes.Equal(magic, MagicBytes) {
		return nil, fmt.Errorf("invalid file format: not a graph bundle")
	}

	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("unsupported version: %d (expected %d)", version, Version)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var payload Payload
	if err := json.NewDecoder(gz).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &payload, nil
}

// Unpack reads a bundle file
func Unpack(inputPath string) (*Payload, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Inspect returns just the manifest. The whole stream is still decompressed.
func Inspect(inputPath string) (*Manifest, error) {
	payload, err := Unpack(inputPath)
	if err != nil {
		return nil, err
	}
	return &payload.Manifest, nil
}

// Rebuild restores the graph carried by the payload
func (p *Payload) Rebuild(opts ...cag.Option) (*cag.Graph, error) {
	return cag.FromSnapshot(p.Graph, opts...)
}
