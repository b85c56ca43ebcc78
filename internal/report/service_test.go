package report

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tuannvm/jira-pulse/internal/history"
	"github.com/tuannvm/jira-pulse/internal/jira"
	"github.com/tuannvm/jira-pulse/internal/metrics"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
)

var reportTeams = []models.Team{{ID: "core", Name: "Core", Members: []string{"alice", "bob"}}}

type fakeSource struct {
	issues  []models.Issue
	err     error
	queries []string
}

func (f *fakeSource) SearchIssues(_ context.Context, jql string) ([]models.Issue, error) {
	f.queries = append(f.queries, jql)
	return f.issues, f.err
}

func (f *fakeSource) BuildSearchJQL(jql string) (string, error) {
	if jql == "" {
		return "", jira.ErrNoJQL
	}
	return "(" + jql + ")", nil
}

type fakeNarrator struct {
	text string
	err  error
}

func (f fakeNarrator) Rewrite(_ context.Context, _, _ string) (string, error) {
	return f.text, f.err
}

func currentIssues() []models.Issue {
	return []models.Issue{
		{
			Key: "ABC-1",
			Fields: models.IssueFields{
				Summary:        "Checkout fails",
				Status:         &models.NamedField{Name: "主干已解决"},
				Priority:       &models.NamedField{Name: "High"},
				Assignee:       &models.User{Name: "alice", DisplayName: "Alice"},
				Created:        "2026-03-02T09:00:00.000+0000",
				ResolutionDate: "2026-03-04T10:00:00.000+0000",
			},
		},
		{
			Key: "ABC-2",
			Fields: models.IssueFields{
				Summary:  "Search slow",
				Status:   &models.NamedField{Name: "To Do"},
				Priority: &models.NamedField{Name: "Low"},
				Assignee: &models.User{Name: "bob", DisplayName: "Bob"},
				Created:  "2026-02-20T09:00:00.000+0000",
			},
		},
	}
}

func weekQuery() Query {
	return Query{JQL: "project = ABC", Window: "custom", Start: "2026-03-01", End: "2026-03-08"}
}

func newTestService(t *testing.T, source jira.IssueSource, narrator Narrator) (*Service, *history.Store) {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	svc := NewService(Options{
		Source:   source,
		History:  store,
		Cache:    store,
		Narrator: narrator,
		Settings: normalize.Settings{Teams: reportTeams},
		BaseURL:  "https://jira.example.com",
		Now:      func() time.Time { return time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC) },
	})
	return svc, store
}

func TestKanbanMergesHistoricalTransfers(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeSource{issues: currentIssues()}, nil)

	// OLD-1 left the team during the week and no longer matches the query.
	old := models.Issue{
		Key:    "OLD-1",
		Fields: models.IssueFields{Summary: "Legacy export", Assignee: &models.User{Name: "zed", DisplayName: "Zed"}},
		Changelog: models.Changelog{Histories: []models.History{{
			Created: "2026-03-03T10:00:00.000+0000",
			Items:   []models.ChangelogItem{{Field: "assignee", From: "alice", FromString: "Alice", To: "zed", ToString: "Zed"}},
		}}},
	}
	if err := store.Record(ctx, []models.Issue{old}, history.RecordMeta{JQLPreview: "(key = OLD-1)"}, "", reportTeams); err != nil {
		t.Fatalf("Failed to seed history: %v", err)
	}

	board, err := svc.Kanban(ctx, weekQuery())
	if err != nil {
		t.Fatalf("Kanban failed: %v", err)
	}

	if len(board.Cards) != 2 || len(board.Columns) != 4 {
		t.Fatalf("Expected 2 cards in 4 columns, got %d cards, %d columns", len(board.Cards), len(board.Columns))
	}
	if board.JQLPreview != "(project = ABC)" || board.IssueCount != 2 {
		t.Errorf("Unexpected preview %q or count %d", board.JQLPreview, board.IssueCount)
	}
	if !reflect.DeepEqual(board.Filters.Assignees, []string{"Alice", "Bob"}) {
		t.Errorf("Unexpected assignee filters %v", board.Filters.Assignees)
	}
	if !reflect.DeepEqual(board.Filters.Priorities, []string{"High", "Low"}) {
		t.Errorf("Unexpected priority filters %v", board.Filters.Priorities)
	}

	if board.ManagerSummary.Cards.ResolvedTotal != 1 || board.ManagerSummary.Cards.NewIssueTotal != 1 {
		t.Errorf("Unexpected counters %+v", board.ManagerSummary.Cards)
	}
	if board.ManagerSummary.Cards.TransferOutIssueTotal != 1 || board.ManagerSummary.Cards.TransferOutEventTotal != 1 {
		t.Errorf("Expected one historical transfer out, got %+v", board.ManagerSummary.Cards)
	}
	if !reflect.DeepEqual(board.IssueKeys.TransferOut, []string{"OLD-1"}) {
		t.Errorf("Unexpected transfer-out keys %v", board.IssueKeys.TransferOut)
	}
	if !strings.HasSuffix(board.Text, "（含历史查询补偿后：评估后转出 1 个问题/1 次流转）") {
		t.Errorf("Narrative is missing the history suffix: %s", board.Text)
	}
	if !strings.HasSuffix(board.PeriodFocus.TransferOut.Note, "；含历史查询补偿") {
		t.Errorf("Transfer note is missing the history suffix: %s", board.PeriodFocus.TransferOut.Note)
	}
	if board.AssignmentDebug != nil {
		t.Errorf("Expected no assignment debug unless requested")
	}
	if len(board.Metrics) != 2 {
		t.Errorf("Expected 2 member metric rows, got %d", len(board.Metrics))
	}

	rec, err := store.Issue(ctx, "ABC-1")
	if err != nil || rec == nil {
		t.Fatalf("Expected fetched issue to be recorded, got %v, %v", rec, err)
	}
	if rec.URL != "https://jira.example.com/browse/ABC-1" || rec.LastJQLPreview != "(project = ABC)" {
		t.Errorf("Unexpected recorded issue %+v", rec)
	}
}

func TestKanbanFiltersAndDebug(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{issues: currentIssues()}, nil)
	q := weekQuery()
	q.Assignee = "Bob"
	q.DebugAssignment = true

	board, err := svc.Kanban(context.Background(), q)
	if err != nil {
		t.Fatalf("Kanban failed: %v", err)
	}
	if len(board.Cards) != 1 || board.Cards[0].Key != "ABC-2" {
		t.Fatalf("Expected only ABC-2, got %+v", board.Cards)
	}
	if board.AssignmentDebug == nil || len(board.AssignmentDebug.Rows) != 1 {
		t.Fatalf("Expected one assignment debug row, got %+v", board.AssignmentDebug)
	}
	if board.AssignmentDebug.Window.Mode != "custom" {
		t.Errorf("Expected custom window, got %q", board.AssignmentDebug.Window.Mode)
	}
}

func TestSummaryNarrator(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{issues: currentIssues()}, fakeNarrator{text: "rewritten"})
	summary, err := svc.Summary(context.Background(), weekQuery())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Text != "rewritten" {
		t.Errorf("Expected rewritten narrative, got %q", summary.Text)
	}

	svc, _ = newTestService(t, &fakeSource{issues: currentIssues()}, fakeNarrator{err: errors.New("quota")})
	summary, err = svc.Summary(context.Background(), weekQuery())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if !strings.HasPrefix(summary.Text, "自定义区间：分配到开发") {
		t.Errorf("Expected generated narrative on rewrite failure, got %q", summary.Text)
	}
}

func TestGantt(t *testing.T) {
	source := &fakeSource{issues: currentIssues()}
	svc, _ := newTestService(t, source, nil)

	if _, err := svc.Gantt(context.Background(), weekQuery(), "team"); !errors.Is(err, metrics.ErrInvalidGanttMode) {
		t.Errorf("Expected ErrInvalidGanttMode, got %v", err)
	}
	if len(source.queries) != 0 {
		t.Errorf("Expected invalid mode to be rejected before fetching")
	}

	gantt, err := svc.Gantt(context.Background(), weekQuery(), "")
	if err != nil {
		t.Fatalf("Gantt failed: %v", err)
	}
	if gantt.Mode != metrics.GanttMember || gantt.JQLPreview != "(project = ABC)" {
		t.Errorf("Unexpected gantt header %+v", gantt)
	}
}

func TestSourceErrorsPropagate(t *testing.T) {
	svc, store := newTestService(t, &fakeSource{err: jira.ErrAuth}, nil)
	if _, err := svc.Kanban(context.Background(), weekQuery()); !errors.Is(err, jira.ErrAuth) {
		t.Errorf("Expected ErrAuth, got %v", err)
	}
	if _, err := svc.Kanban(context.Background(), Query{}); !errors.Is(err, jira.ErrNoJQL) {
		t.Errorf("Expected ErrNoJQL, got %v", err)
	}
	ov, err := store.Overview(context.Background())
	if err != nil || ov.QueryCount != 0 {
		t.Errorf("Expected failed fetches to leave history untouched, got %d queries, %v", ov.QueryCount, err)
	}
}

func TestSyncAndWebhook(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeSource{issues: currentIssues()}, nil)

	n, err := svc.Sync(ctx, "project = ABC")
	if err != nil || n != 2 {
		t.Fatalf("Sync = %d, %v", n, err)
	}

	event, err := jira.ParseWebhook([]byte(`{
		"timestamp": 1772704800000,
		"webhookEvent": "jira:issue_updated",
		"issue": {"key": "ABC-3", "fields": {"summary": "New", "assignee": {"name": "zed", "displayName": "Zed"}}},
		"changelog": {"id": "1", "items": [{"field": "assignee", "from": "bob", "fromString": "Bob", "to": "zed", "toString": "Zed"}]}
	}`))
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if err := svc.RecordWebhook(ctx, event); err != nil {
		t.Fatalf("RecordWebhook failed: %v", err)
	}

	ov, err := svc.HistoryOverview(ctx)
	if err != nil {
		t.Fatalf("HistoryOverview failed: %v", err)
	}
	if ov.QueryCount != 2 || ov.IssueCount != 3 {
		t.Errorf("Expected 2 queries and 3 issues, got %d and %d", ov.QueryCount, ov.IssueCount)
	}
	rec, err := store.Issue(ctx, "ABC-3")
	if err != nil || rec == nil || !rec.EverInTeam || rec.LastJQLPreview != "webhook:updated" {
		t.Errorf("Unexpected webhook record %+v, %v", rec, err)
	}
}

func TestHistoryDisabled(t *testing.T) {
	svc := NewService(Options{Source: &fakeSource{issues: currentIssues()}})
	if _, err := svc.Sync(context.Background(), "x"); !errors.Is(err, ErrHistoryDisabled) {
		t.Errorf("Expected ErrHistoryDisabled from Sync, got %v", err)
	}
	if _, err := svc.HistoryOverview(context.Background()); !errors.Is(err, ErrHistoryDisabled) {
		t.Errorf("Expected ErrHistoryDisabled from HistoryOverview, got %v", err)
	}
	if err := svc.RecordWebhook(context.Background(), &jira.WebhookEvent{}); !errors.Is(err, ErrHistoryDisabled) {
		t.Errorf("Expected ErrHistoryDisabled from RecordWebhook, got %v", err)
	}
	summary, err := svc.Summary(context.Background(), weekQuery())
	if err != nil || strings.Contains(summary.Text, "历史查询") {
		t.Errorf("Expected plain summary without history, got %q, %v", summary.Text, err)
	}
}

type failingHistory struct {
	err error
}

func (f failingHistory) Record(context.Context, []models.Issue, history.RecordMeta, string, []models.Team) error {
	return f.err
}

func (f failingHistory) HistoricalCards(context.Context) ([]models.Card, error) { return nil, nil }

func (f failingHistory) Overview(context.Context) (history.Overview, error) {
	return history.Overview{}, nil
}

func TestSyncFailsWhenHistoryWriteFails(t *testing.T) {
	diskFull := errors.New("disk full")
	svc := NewService(Options{
		Source:   &fakeSource{issues: currentIssues()},
		History:  failingHistory{err: diskFull},
		Settings: normalize.Settings{Teams: reportTeams},
	})

	n, err := svc.Sync(context.Background(), "project = ABC")
	if !errors.Is(err, diskFull) || n != 0 {
		t.Errorf("Expected Sync to fail with the store error, got %d, %v", n, err)
	}

	// Reports stay available when only the history write fails.
	board, err := svc.Kanban(context.Background(), weekQuery())
	if err != nil || len(board.Cards) != 2 {
		t.Errorf("Expected Kanban to succeed despite history failure, got %v", err)
	}
}

func TestRunQueryAndCachedReports(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{issues: currentIssues()}
	svc, store := newTestService(t, source, nil)

	q := weekQuery()
	q.Source = SourceAuto
	if _, err := svc.Kanban(ctx, q); !errors.Is(err, history.ErrCacheMiss) {
		t.Fatalf("Expected ErrCacheMiss before any query, got %v", err)
	}
	if len(source.queries) != 0 {
		t.Errorf("Expected cached reports not to hit the source")
	}

	res, err := svc.RunQuery(ctx, " project = ABC ")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if res.IssueCount != 2 || res.JQLPreview != "(project = ABC)" || res.CacheID != history.CacheID("(project = ABC)") {
		t.Errorf("Unexpected query result %+v", res)
	}
	if ov, _ := store.Overview(ctx); ov.IssueCount != 2 {
		t.Errorf("Expected RunQuery to record history, got %d issues", ov.IssueCount)
	}

	board, err := svc.Kanban(ctx, q)
	if err != nil {
		t.Fatalf("Cached Kanban failed: %v", err)
	}
	if len(board.Cards) != 2 || board.JQLPreview != "(project = ABC)" {
		t.Errorf("Unexpected cached board: %d cards, preview %q", len(board.Cards), board.JQLPreview)
	}
	if board.CacheMeta.ID != res.CacheID || board.CacheMeta.Mode != SourceAuto || board.CacheMeta.Fallback {
		t.Errorf("Unexpected cache meta %+v", board.CacheMeta)
	}
	if len(source.queries) != 1 {
		t.Errorf("Expected only RunQuery to hit the source, got %v", source.queries)
	}

	other := weekQuery()
	other.JQL = "project = XYZ"
	other.Source = SourceRequested
	if _, err := svc.Gantt(ctx, other, ""); !errors.Is(err, history.ErrCacheMiss) {
		t.Errorf("Expected requested mode to miss, got %v", err)
	}

	other.Source = SourceAuto
	gantt, err := svc.Gantt(ctx, other, "")
	if err != nil {
		t.Fatalf("Fallback Gantt failed: %v", err)
	}
	if !gantt.CacheMeta.Fallback || gantt.CacheMeta.ID != res.CacheID || gantt.JQLPreview != "(project = ABC)" {
		t.Errorf("Expected fallback to the latest cache, got %+v", gantt.CacheMeta)
	}

	other.Source = SourceCacheID
	other.CacheID = "missing"
	if _, _, err := svc.Cards(ctx, other); !errors.Is(err, history.ErrCacheMiss) {
		t.Errorf("Expected unknown cache id to miss, got %v", err)
	}
	other.CacheID = res.CacheID
	cards, meta, err := svc.Cards(ctx, other)
	if err != nil || len(cards) != 2 || meta.Source != "query_cache/"+res.CacheID {
		t.Errorf("Unexpected cache_id cards %d, %+v, %v", len(cards), meta, err)
	}

	listed, err := svc.CachedQueries(ctx)
	if err != nil {
		t.Fatalf("CachedQueries failed: %v", err)
	}
	if len(listed.Queries) != 1 || listed.DefaultJQL != "project = ABC" || listed.Queries[0].Name != "(project = ABC)" {
		t.Errorf("Unexpected cached queries %+v", listed)
	}
}

func TestCacheDisabled(t *testing.T) {
	svc := NewService(Options{Source: &fakeSource{issues: currentIssues()}})
	if _, err := svc.RunQuery(context.Background(), "project = ABC"); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Expected ErrCacheDisabled from RunQuery, got %v", err)
	}
	q := weekQuery()
	q.Source = SourceLatest
	if _, err := svc.Kanban(context.Background(), q); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Expected ErrCacheDisabled from a cached Kanban, got %v", err)
	}
	if _, err := svc.CacheSources(context.Background()); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Expected ErrCacheDisabled from CacheSources, got %v", err)
	}
}
