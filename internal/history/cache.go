package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// ErrCacheMiss is returned when no cached query result matches.
var ErrCacheMiss = errors.New("query cache not found")

// CachedQuery is the stored result of one Jira query. Issues is only filled
// by LoadCache.
type CachedQuery struct {
	ID         string         `json:"id" yaml:"id"`
	CustomJQL  string         `json:"custom_jql" yaml:"custom_jql"`
	JQLPreview string         `json:"jql_preview" yaml:"jql_preview"`
	QueriedAt  string         `json:"updated_at" yaml:"updated_at"`
	IssueCount int            `json:"issue_count" yaml:"issue_count"`
	Issues     []models.Issue `json:"-" yaml:"-"`
}

// CacheID is the cache key of an effective JQL.
func CacheID(jqlPreview string) string {
	sum := sha256.Sum256([]byte(jqlPreview))
	return hex.EncodeToString(sum[:])
}

// SaveCache stores issues as the latest result for jqlPreview, replacing any
// earlier result for the same JQL.
func (s *Store) SaveCache(ctx context.Context, customJQL, jqlPreview string, issues []models.Issue) (CachedQuery, error) {
	if issues == nil {
		issues = []models.Issue{}
	}
	payload, err := json.Marshal(issues)
	if err != nil {
		return CachedQuery{}, fmt.Errorf("encode cached issues: %w", err)
	}

	now := s.now()
	entry := CachedQuery{
		ID:         CacheID(jqlPreview),
		CustomJQL:  customJQL,
		JQLPreview: jqlPreview,
		QueriedAt:  now.Format(timeLayout),
		IssueCount: len(issues),
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO query_cache
		(id, custom_jql, jql_preview, queried_at, updated_ns, issue_count, issues)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CustomJQL, entry.JQLPreview, entry.QueriedAt, now.UnixNano(), entry.IssueCount, string(payload))
	if err != nil {
		return CachedQuery{}, fmt.Errorf("save query cache: %w", err)
	}
	return entry, nil
}

// LoadCache returns the cached result with its issues, or ErrCacheMiss.
func (s *Store) LoadCache(ctx context.Context, id string) (*CachedQuery, error) {
	var (
		entry  CachedQuery
		issues string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, custom_jql, jql_preview, queried_at, issue_count, issues
		FROM query_cache WHERE id = ?`, id).
		Scan(&entry.ID, &entry.CustomJQL, &entry.JQLPreview, &entry.QueriedAt, &entry.IssueCount, &issues)
	if err == sql.ErrNoRows {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load query cache %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(issues), &entry.Issues); err != nil {
		return nil, fmt.Errorf("decode query cache %s: %w", id, err)
	}
	return &entry, nil
}

// CacheSources lists cached results without their issues, newest first.
func (s *Store) CacheSources(ctx context.Context) ([]CachedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, custom_jql, jql_preview, queried_at, issue_count
		FROM query_cache ORDER BY updated_ns DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list query cache: %w", err)
	}
	defer rows.Close()

	out := []CachedQuery{}
	for rows.Next() {
		var entry CachedQuery
		if err := rows.Scan(&entry.ID, &entry.CustomJQL, &entry.JQLPreview, &entry.QueriedAt, &entry.IssueCount); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
