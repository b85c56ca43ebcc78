// Package history keeps a durable record of every issue seen by a query that
// touched a configured team, so transfers out of a team stay countable after
// the issue drops out of later query results.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
)

const (
	maxQueries      = 300
	overviewQueries = 50
	timeLayout      = "2006-01-02T15:04:05.999999-07:00"
	defaultBaseURL  = "https://jira.local"
)

const schema = `
CREATE TABLE IF NOT EXISTS team_issues (
	key                      TEXT PRIMARY KEY,
	summary                  TEXT NOT NULL DEFAULT '',
	url                      TEXT NOT NULL DEFAULT '',
	assignee                 TEXT NOT NULL DEFAULT '',
	assignee_login           TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT '',
	first_seen_at            TEXT NOT NULL,
	last_seen_at             TEXT NOT NULL,
	seen_count               INTEGER NOT NULL DEFAULT 0,
	last_jql_preview         TEXT NOT NULL DEFAULT '',
	teams_touched            TEXT NOT NULL DEFAULT '[]',
	ever_in_team             INTEGER NOT NULL DEFAULT 0,
	assignee_transfer_events TEXT NOT NULL DEFAULT '[]',
	entered_team_events      TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS queries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	queried_at  TEXT NOT NULL,
	custom_jql  TEXT NOT NULL DEFAULT '',
	jql_preview TEXT NOT NULL DEFAULT '',
	issue_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS query_cache (
	id          TEXT PRIMARY KEY,
	custom_jql  TEXT NOT NULL DEFAULT '',
	jql_preview TEXT NOT NULL DEFAULT '',
	queried_at  TEXT NOT NULL,
	updated_ns  INTEGER NOT NULL,
	issue_count INTEGER NOT NULL DEFAULT 0,
	issues      TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS store_meta (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// EnteredTeamEvent is a transfer whose destination is a team member.
type EnteredTeamEvent struct {
	TeamID string `json:"team_id" yaml:"team_id"`
	At     string `json:"at" yaml:"at"`
	From   string `json:"from,omitempty" yaml:"from,omitempty"`
	To     string `json:"to,omitempty" yaml:"to,omitempty"`
}

// IssueRecord is everything remembered about one issue.
type IssueRecord struct {
	Key                    string                         `json:"key" yaml:"key"`
	Summary                string                         `json:"summary" yaml:"summary"`
	URL                    string                         `json:"url" yaml:"url"`
	Assignee               string                         `json:"assignee" yaml:"assignee"`
	AssigneeLogin          string                         `json:"assignee_login" yaml:"assignee_login"`
	Status                 string                         `json:"status" yaml:"status"`
	FirstSeenAt            string                         `json:"first_seen_at" yaml:"first_seen_at"`
	LastSeenAt             string                         `json:"last_seen_at" yaml:"last_seen_at"`
	SeenCount              int                            `json:"seen_count" yaml:"seen_count"`
	LastJQLPreview         string                         `json:"last_jql_preview" yaml:"last_jql_preview"`
	TeamsTouched           []string                       `json:"teams_touched" yaml:"teams_touched"`
	EverInTeam             bool                           `json:"ever_in_team" yaml:"ever_in_team"`
	AssigneeTransferEvents []models.AssigneeTransferEvent `json:"assignee_transfer_events" yaml:"assignee_transfer_events"`
	EnteredTeamEvents      []EnteredTeamEvent             `json:"entered_team_events" yaml:"entered_team_events"`
}

// QueryRecord is one logged query.
type QueryRecord struct {
	QueriedAt  string `json:"queried_at" yaml:"queried_at"`
	CustomJQL  string `json:"custom_jql" yaml:"custom_jql"`
	JQLPreview string `json:"jql_preview" yaml:"jql_preview"`
	IssueCount int    `json:"issue_count" yaml:"issue_count"`
}

// RecordMeta describes the query that produced a batch of issues.
type RecordMeta struct {
	CustomJQL  string
	JQLPreview string
}

// Overview is the full store content, with only the latest queries.
type Overview struct {
	UpdatedAt  string        `json:"updated_at" yaml:"updated_at"`
	QueryCount int           `json:"query_count" yaml:"query_count"`
	IssueCount int           `json:"issue_count" yaml:"issue_count"`
	Queries    []QueryRecord `json:"queries" yaml:"queries"`
	Issues     []IssueRecord `json:"issues" yaml:"issues"`
}

// Store is the sqlite backed team issue history.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// Writers from the HTTP API and the scheduled sync share one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logging.Debugf("Opened team issue history at %s", path)
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) timestamp() string {
	return s.now().Format(timeLayout)
}

// Record logs the query and merges every keyed issue into the store. Team
// membership, transfer events and the ever-in-team flag only ever grow.
func (s *Store) Record(ctx context.Context, issues []models.Issue, meta RecordMeta, baseURL string, teams []models.Team) error {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	membership := normalize.BuildMembership(teams)
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queries (queried_at, custom_jql, jql_preview, issue_count) VALUES (?, ?, ?, ?)`,
		now, meta.CustomJQL, meta.JQLPreview, len(issues)); err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM queries WHERE id NOT IN (SELECT id FROM queries ORDER BY id DESC LIMIT ?)`, maxQueries); err != nil {
		return fmt.Errorf("trim query log: %w", err)
	}

	for _, issue := range issues {
		key := strings.TrimSpace(issue.Key)
		if key == "" {
			continue
		}
		existing, err := getIssue(ctx, tx, key)
		if err != nil {
			return err
		}
		merged := mergeIssue(existing, issue, summarizeTouch(issue, membership), now, meta.JQLPreview, baseURL)
		if err := putIssue(ctx, tx, merged); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (name, value) VALUES ('updated_at', ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, now); err != nil {
		return fmt.Errorf("stamp history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	logging.Infof("Recorded %d issues into team history", len(issues))
	return nil
}

type teamTouch struct {
	teams      []string
	everInTeam bool
	transfers  []models.AssigneeTransferEvent
	entered    []EnteredTeamEvent
}

func identity(login, display string) string {
	if login != "" {
		return normalize.NormalizeIdentity(login)
	}
	return normalize.NormalizeIdentity(display)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// summarizeTouch finds the teams an issue passed through. A team is touched
// when a transfer source or destination, or the current assignee, is a member.
func summarizeTouch(issue models.Issue, teams []normalize.TeamMembership) teamTouch {
	var current []string
	if a := issue.Fields.Assignee; a != nil {
		current = []string{firstOf(a.Name, a.Key), a.DisplayName}
	}

	touch := teamTouch{transfers: normalize.ExtractAssigneeTransferEvents(issue)}
	touched := map[string]struct{}{}
	for _, event := range touch.transfers {
		from := identity(event.FromLogin, event.FromDisplay)
		to := identity(event.ToLogin, event.ToDisplay)
		for _, team := range teams {
			toIn := team.Contains(to)
			if team.Contains(from) || toIn || team.Members.Any(current...) {
				touched[team.ID] = struct{}{}
			}
			if toIn {
				touch.entered = append(touch.entered, EnteredTeamEvent{
					TeamID: team.ID,
					At:     event.At,
					From:   firstOf(event.FromDisplay, event.FromLogin),
					To:     firstOf(event.ToDisplay, event.ToLogin),
				})
			}
		}
	}
	for _, team := range teams {
		if team.Members.Any(current...) {
			touched[team.ID] = struct{}{}
		}
	}

	touch.everInTeam = len(touched) > 0
	for id := range touched {
		touch.teams = append(touch.teams, id)
	}
	sort.Strings(touch.teams)
	return touch
}

func mergeIssue(existing *IssueRecord, issue models.Issue, touch teamTouch, now, jqlPreview, baseURL string) IssueRecord {
	if existing == nil {
		existing = &IssueRecord{}
	}
	fields := issue.Fields
	var assignee models.User
	if fields.Assignee != nil {
		assignee = *fields.Assignee
	}

	teams := map[string]struct{}{}
	for _, id := range existing.TeamsTouched {
		teams[id] = struct{}{}
	}
	for _, id := range touch.teams {
		teams[id] = struct{}{}
	}
	mergedTeams := make([]string, 0, len(teams))
	for id := range teams {
		mergedTeams = append(mergedTeams, id)
	}
	sort.Strings(mergedTeams)

	key := strings.TrimSpace(issue.Key)
	return IssueRecord{
		Key:                    key,
		Summary:                firstOf(fields.Summary, existing.Summary),
		URL:                    fmt.Sprintf("%s/browse/%s", baseURL, key),
		Assignee:               firstOf(assignee.DisplayName, existing.Assignee, "Unassigned"),
		AssigneeLogin:          firstOf(assignee.Name, assignee.Key, existing.AssigneeLogin),
		Status:                 firstOf(fields.StatusName(), existing.Status),
		FirstSeenAt:            firstOf(existing.FirstSeenAt, now),
		LastSeenAt:             now,
		SeenCount:              existing.SeenCount + 1,
		LastJQLPreview:         jqlPreview,
		TeamsTouched:           mergedTeams,
		EverInTeam:             existing.EverInTeam || touch.everInTeam,
		AssigneeTransferEvents: mergeTransfers(existing.AssigneeTransferEvents, touch.transfers),
		EnteredTeamEvents:      mergeEntered(existing.EnteredTeamEvents, touch.entered),
	}
}

// mergeTransfers dedups on (at, from, to) and orders by time.
func mergeTransfers(existing, incoming []models.AssigneeTransferEvent) []models.AssigneeTransferEvent {
	seen := map[[3]string]struct{}{}
	out := []models.AssigneeTransferEvent{}
	for _, e := range append(append([]models.AssigneeTransferEvent{}, existing...), incoming...) {
		k := [3]string{e.At, firstOf(e.FromLogin, e.FromDisplay), firstOf(e.ToLogin, e.ToDisplay)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

func mergeEntered(existing, incoming []EnteredTeamEvent) []EnteredTeamEvent {
	seen := map[[3]string]struct{}{}
	out := []EnteredTeamEvent{}
	for _, e := range append(append([]EnteredTeamEvent{}, existing...), incoming...) {
		k := [3]string{e.At, e.From, e.To}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

const issueColumns = `key, summary, url, assignee, assignee_login, status, first_seen_at, last_seen_at,
	seen_count, last_jql_preview, teams_touched, ever_in_team, assignee_transfer_events, entered_team_events`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanIssue(row rowScanner) (IssueRecord, error) {
	var (
		rec                       IssueRecord
		teams, transfers, entered string
		everInTeam                int
	)
	if err := row.Scan(&rec.Key, &rec.Summary, &rec.URL, &rec.Assignee, &rec.AssigneeLogin, &rec.Status,
		&rec.FirstSeenAt, &rec.LastSeenAt, &rec.SeenCount, &rec.LastJQLPreview,
		&teams, &everInTeam, &transfers, &entered); err != nil {
		return rec, err
	}
	rec.EverInTeam = everInTeam != 0
	if err := json.Unmarshal([]byte(teams), &rec.TeamsTouched); err != nil {
		return rec, fmt.Errorf("decode teams of %s: %w", rec.Key, err)
	}
	if err := json.Unmarshal([]byte(transfers), &rec.AssigneeTransferEvents); err != nil {
		return rec, fmt.Errorf("decode transfers of %s: %w", rec.Key, err)
	}
	if err := json.Unmarshal([]byte(entered), &rec.EnteredTeamEvents); err != nil {
		return rec, fmt.Errorf("decode entered events of %s: %w", rec.Key, err)
	}
	return rec, nil
}

func getIssue(ctx context.Context, q queryer, key string) (*IssueRecord, error) {
	rec, err := scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM team_issues WHERE key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load issue %s: %w", key, err)
	}
	return &rec, nil
}

func putIssue(ctx context.Context, tx *sql.Tx, rec IssueRecord) error {
	teams, err := json.Marshal(rec.TeamsTouched)
	if err != nil {
		return err
	}
	transfers, err := json.Marshal(rec.AssigneeTransferEvents)
	if err != nil {
		return err
	}
	entered, err := json.Marshal(rec.EnteredTeamEvents)
	if err != nil {
		return err
	}
	everInTeam := 0
	if rec.EverInTeam {
		everInTeam = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO team_issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.Summary, rec.URL, rec.Assignee, rec.AssigneeLogin, rec.Status,
		rec.FirstSeenAt, rec.LastSeenAt, rec.SeenCount, rec.LastJQLPreview,
		string(teams), everInTeam, string(transfers), string(entered))
	if err != nil {
		return fmt.Errorf("save issue %s: %w", rec.Key, err)
	}
	return nil
}

// Issues returns every stored issue ordered by key.
func (s *Store) Issues(ctx context.Context) ([]IssueRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+issueColumns+` FROM team_issues ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	out := []IssueRecord{}
	for rows.Next() {
		rec, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Issue returns one stored issue, or nil when the key was never recorded.
func (s *Store) Issue(ctx context.Context, key string) (*IssueRecord, error) {
	return getIssue(ctx, s.db, key)
}

// HistoricalCards projects issues that were ever in a team into minimal
// cards. Only the identity fields, first-seen time and transfer events are
// meaningful; they feed the transfer-out supplement only.
func (s *Store) HistoricalCards(ctx context.Context) ([]models.Card, error) {
	issues, err := s.Issues(ctx)
	if err != nil {
		return nil, err
	}
	cards := []models.Card{}
	for _, rec := range issues {
		if !rec.EverInTeam {
			continue
		}
		assignee := firstOf(rec.Assignee, "Unassigned")
		cards = append(cards, models.Card{
			Key:                    rec.Key,
			Summary:                rec.Summary,
			Status:                 rec.Status,
			Assignee:               assignee,
			AssigneeLogin:          rec.AssigneeLogin,
			MetricOwner:            assignee,
			URL:                    rec.URL,
			Timeline:               models.Timeline{CreatedAt: rec.FirstSeenAt, ReopenedEvents: []string{}},
			AssigneeTransferEvents: rec.AssigneeTransferEvents,
		})
	}
	return cards, nil
}

// Queries returns up to limit of the most recent queries, oldest first.
func (s *Store) Queries(ctx context.Context, limit int) ([]QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT queried_at, custom_jql, jql_preview, issue_count FROM (
		SELECT id, queried_at, custom_jql, jql_preview, issue_count FROM queries ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	out := []QueryRecord{}
	for rows.Next() {
		var q QueryRecord
		if err := rows.Scan(&q.QueriedAt, &q.CustomJQL, &q.JQLPreview, &q.IssueCount); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Overview returns the store counters, the latest queries and all issues.
func (s *Store) Overview(ctx context.Context) (Overview, error) {
	var ov Overview
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE name = 'updated_at'`).Scan(&ov.UpdatedAt)
	if err != nil && err != sql.ErrNoRows {
		return ov, fmt.Errorf("read updated_at: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&ov.QueryCount); err != nil {
		return ov, fmt.Errorf("count queries: %w", err)
	}
	if ov.Queries, err = s.Queries(ctx, overviewQueries); err != nil {
		return ov, err
	}
	if ov.Issues, err = s.Issues(ctx); err != nil {
		return ov, err
	}
	ov.IssueCount = len(ov.Issues)
	return ov, nil
}
