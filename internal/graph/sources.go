package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
)

// Edge is an undirected association between two addresses.
type Edge [2]string

// Source provides association edges.
type Source interface {
	Edges(ctx context.Context) ([]Edge, error)
}

type edgeFile struct {
	Edges []Edge `json:"edges"`
}

// FileSource reads edges from a JSON document of the form
// {"edges":[["0xa…","0xb…"], …]}.
type FileSource struct {
	Path string
}

// Edges implements Source.
func (s *FileSource) Edges(_ context.Context) ([]Edge, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("graph: open edges: %w", err)
	}
	defer func() { _ = f.Close() }()

	var doc edgeFile
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("graph: decode edges: %w", err)
	}
	return doc.Edges, nil
}

// PostgresStore reads edges from the association_edges table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed edge source.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Edges implements Source.
func (s *PostgresStore) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_address, to_address
		FROM association_edges
		ORDER BY from_address, to_address
	`)
	if err != nil {
		return nil, fmt.Errorf("graph: query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e[0], &e[1]); err != nil {
			return nil, fmt.Errorf("graph: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("graph: iterate edges: %w", err)
	}
	return edges, nil
}

// AddEdge stores an association. The pair is stored in sorted order so the
// primary key deduplicates both directions.
func (s *PostgresStore) AddEdge(ctx context.Context, from, to, kind string) error {
	if to < from {
		from, to = to, from
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO association_edges (from_address, to_address, kind, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (from_address, to_address) DO NOTHING
	`, from, to, kind)
	if err != nil {
		return fmt.Errorf("graph: add edge: %w", err)
	}
	return nil
}

// MultiSource concatenates the edges of several sources.
type MultiSource []Source

// Edges implements Source.
func (m MultiSource) Edges(ctx context.Context) ([]Edge, error) {
	var all []Edge
	for _, s := range m {
		edges, err := s.Edges(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, edges...)
	}
	return all, nil
}
