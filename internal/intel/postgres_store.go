package intel

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore reads intelligence from the scam_records and
// scam_cluster_members tables. Writes are the feed ingester's job; this
// store only exposes what the engine consumes plus an Upsert used by tooling
// and tests.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed intelligence source.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Load implements Source.
func (s *PostgresStore) Load(ctx context.Context) (*Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, category, confidence, source, COALESCE(cluster_id, '')
		FROM scam_records
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("intel: query scam records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	feed := &Feed{}
	for rows.Next() {
		var rec ScamRecord
		var category string
		if err := rows.Scan(&rec.Address, &category, &rec.Confidence, &rec.Source, &rec.ClusterID); err != nil {
			return nil, fmt.Errorf("intel: scan scam record: %w", err)
		}
		rec.Category = ParseCategory(category)
		feed.Records = append(feed.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intel: iterate scam records: %w", err)
	}

	members, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, address
		FROM scam_cluster_members
		ORDER BY cluster_id, address
	`)
	if err != nil {
		return nil, fmt.Errorf("intel: query cluster members: %w", err)
	}
	defer func() { _ = members.Close() }()

	byID := make(map[string]int)
	for members.Next() {
		var cid, addr string
		if err := members.Scan(&cid, &addr); err != nil {
			return nil, fmt.Errorf("intel: scan cluster member: %w", err)
		}
		i, ok := byID[cid]
		if !ok {
			i = len(feed.Clusters)
			byID[cid] = i
			feed.Clusters = append(feed.Clusters, Cluster{ID: cid})
		}
		feed.Clusters[i].Members = append(feed.Clusters[i].Members, addr)
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("intel: iterate cluster members: %w", err)
	}

	return feed, nil
}

// Upsert inserts or replaces a record.
func (s *PostgresStore) Upsert(ctx context.Context, rec ScamRecord) error {
	var cluster sql.NullString
	if rec.ClusterID != "" {
		cluster = sql.NullString{String: rec.ClusterID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scam_records (address, category, confidence, source, cluster_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (address) DO UPDATE SET
			category   = EXCLUDED.category,
			confidence = EXCLUDED.confidence,
			source     = EXCLUDED.source,
			cluster_id = EXCLUDED.cluster_id,
			updated_at = NOW()
	`, rec.Address, string(rec.Category), rec.Confidence, rec.Source, cluster)
	if err != nil {
		return fmt.Errorf("intel: upsert scam record: %w", err)
	}
	return nil
}

// AddClusterMember records addr as a member of cluster cid.
func (s *PostgresStore) AddClusterMember(ctx context.Context, cid, addr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scam_cluster_members (cluster_id, address)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, cid, addr)
	if err != nil {
		return fmt.Errorf("intel: add cluster member: %w", err)
	}
	return nil
}
