package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trpc.group/trpc-go/trpc-a2a-go/auth"

	"github.com/tuannvm/jira-pulse/internal/history"
	"github.com/tuannvm/jira-pulse/internal/jira"
	"github.com/tuannvm/jira-pulse/internal/metrics"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/report"
)

type fakeService struct {
	err      error
	query    report.Query
	mode     string
	queried  []string
	recorded *jira.WebhookEvent
}

func (f *fakeService) Cards(_ context.Context, q report.Query) ([]models.Card, report.CacheMeta, error) {
	f.query = q
	if f.err != nil {
		return nil, report.CacheMeta{}, f.err
	}
	cards := []models.Card{{
		Key: "ABC-1", Summary: "Login, then crash", Assignee: "Alice", Priority: "High",
		Status: "Done", Column: "Done", URL: "https://jira.example.com/browse/ABC-1",
		Timeline: models.Timeline{CreatedAt: "2026-03-02T09:00:00.000+0000", ResolvedAt: "2026-03-04T10:00:00.000+0000"},
	}}
	return cards, report.CacheMeta{Mode: q.Source}, nil
}

func (f *fakeService) RunQuery(_ context.Context, jql string) (*report.QueryResult, error) {
	f.queried = append(f.queried, jql)
	if f.err != nil {
		return nil, f.err
	}
	return &report.QueryResult{IssueCount: 2, JQLPreview: "(" + jql + ")", CacheID: "abc"}, nil
}

func (f *fakeService) CachedQueries(_ context.Context) (*report.CachedQueries, error) {
	if f.err != nil {
		return nil, f.err
	}
	row := report.CachedQueryRow{CachedQuery: history.CachedQuery{ID: "abc", CustomJQL: "project = ABC", JQLPreview: "(project = ABC)"}, Name: "(project = ABC)"}
	return &report.CachedQueries{Queries: []report.CachedQueryRow{row}, DefaultJQL: "project = ABC"}, nil
}

func (f *fakeService) CacheSources(_ context.Context) ([]history.CachedQuery, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []history.CachedQuery{{ID: "abc", IssueCount: 2}}, nil
}

func (f *fakeService) Kanban(_ context.Context, q report.Query) (*report.Kanban, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	board := &report.Kanban{Cards: []models.Card{{Key: "ABC-1"}}}
	board.Text = "本周：分配到开发 1 个"
	return board, nil
}

func (f *fakeService) Gantt(_ context.Context, q report.Query, mode string) (*report.Gantt, error) {
	f.query, f.mode = q, mode
	if f.err != nil {
		return nil, f.err
	}
	if !metrics.ValidGanttMode(mode) {
		return nil, metrics.ErrInvalidGanttMode
	}
	return &report.Gantt{Rows: []metrics.GanttRow{}, Mode: mode}, nil
}

func (f *fakeService) HistoryOverview(_ context.Context) (history.Overview, error) {
	if f.err != nil {
		return history.Overview{}, f.err
	}
	return history.Overview{QueryCount: 3, IssueCount: 1, Issues: []history.IssueRecord{{Key: "ABC-1"}}}, nil
}

func (f *fakeService) RecordWebhook(_ context.Context, event *jira.WebhookEvent) error {
	f.recorded = event
	return f.err
}

func serve(t *testing.T, router http.Handler, method, target, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Response is not JSON: %v: %s", err, rec.Body.String())
	}
	return rec, payload
}

func TestHealthz(t *testing.T) {
	rec, payload := serve(t, NewRouter(&fakeService{}, nil), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || payload["ok"] != true {
		t.Errorf("Unexpected healthz response %d %v", rec.Code, payload)
	}
}

func TestKanbanQueryParams(t *testing.T) {
	svc := &fakeService{}
	rec, payload := serve(t, NewRouter(svc, nil), http.MethodGet,
		"/api/kanban?jql=project%3DABC&assignee=Bob&priority=High&q=login&start=2026-03-01&end=2026-03-08&debug_assignment=True", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := report.Query{
		JQL: "project=ABC", Source: report.SourceAuto, Assignee: "Bob", Priority: "High", Keyword: "login",
		Window: "weekly", Start: "2026-03-01", End: "2026-03-08", DebugAssignment: true,
	}
	if svc.query != want {
		t.Errorf("Expected query %+v, got %+v", want, svc.query)
	}
	if payload["manager_summary_text"] != "本周：分配到开发 1 个" {
		t.Errorf("Expected flattened summary text, got %v", payload["manager_summary_text"])
	}
	if cards, ok := payload["cards"].([]interface{}); !ok || len(cards) != 1 {
		t.Errorf("Expected one card, got %v", payload["cards"])
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target string
		status int
	}{
		{"bad gantt mode", nil, "/api/gantt?mode=team", http.StatusBadRequest},
		{"no jql", jira.ErrNoJQL, "/api/kanban", http.StatusBadRequest},
		{"jira auth", fmt.Errorf("search: %w", jira.ErrAuth), "/api/kanban", http.StatusBadGateway},
		{"jira 4xx", &jira.RequestError{StatusCode: 400, Body: "bad jql"}, "/api/gantt", http.StatusBadGateway},
		{"history off", report.ErrHistoryDisabled, "/api/history/team_issues", http.StatusServiceUnavailable},
		{"no cache yet", history.ErrCacheMiss, "/api/kanban", http.StatusConflict},
		{"cache miss on gantt", fmt.Errorf("load: %w", history.ErrCacheMiss), "/api/gantt", http.StatusConflict},
		{"cache off", report.ErrCacheDisabled, "/api/cache_sources", http.StatusServiceUnavailable},
		{"query upstream", jira.ErrServer, "/api/query?confirmed=true", http.StatusBadGateway},
		{"other", fmt.Errorf("disk full"), "/api/kanban", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := serve(t, NewRouter(&fakeService{err: tt.err}, nil), http.MethodGet, tt.target, "", nil)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
			if msg, _ := payload["error"].(string); msg == "" {
				t.Errorf("Expected an error message, got %v", payload)
			}
		})
	}
}

func TestGanttDefaultsToMember(t *testing.T) {
	svc := &fakeService{}
	rec, payload := serve(t, NewRouter(svc, nil), http.MethodGet, "/api/gantt", "", nil)
	if rec.Code != http.StatusOK || svc.mode != metrics.GanttMember || payload["mode"] != metrics.GanttMember {
		t.Errorf("Expected member mode, got %d %q %v", rec.Code, svc.mode, payload)
	}
}

func TestHistoryRoute(t *testing.T) {
	rec, payload := serve(t, NewRouter(&fakeService{}, nil), http.MethodGet, "/api/history/team_issues", "", nil)
	if rec.Code != http.StatusOK || payload["query_count"] != float64(3) || payload["issue_count"] != float64(1) {
		t.Errorf("Unexpected history response %d %v", rec.Code, payload)
	}
}

func TestJiraWebhook(t *testing.T) {
	svc := &fakeService{}
	body := `{"webhookEvent":"jira:issue_updated","issue":{"key":"ABC-7","fields":{}},
		"changelog":{"items":[{"field":"assignee","from":"alice","to":"zed"}]}}`
	rec, payload := serve(t, NewRouter(svc, nil), http.MethodPost, "/api/webhook/jira", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %v", rec.Code, payload)
	}
	if svc.recorded == nil || svc.recorded.Issue.Key != "ABC-7" || len(svc.recorded.Issue.Changelog.Histories) != 1 {
		t.Errorf("Unexpected recorded event %+v", svc.recorded)
	}
	if payload["event"] != "updated" {
		t.Errorf("Expected updated event, got %v", payload["event"])
	}

	rec, _ = serve(t, NewRouter(svc, nil), http.MethodPost, "/api/webhook/jira", `{"webhookEvent":"jira:issue_updated"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a payload without issue, got %d", rec.Code)
	}
	rec, _ = serve(t, NewRouter(&fakeService{err: report.ErrHistoryDisabled}, nil), http.MethodPost, "/api/webhook/jira", body, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with history disabled, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	provider := auth.NewAPIKeyAuthProvider(map[string]string{"s3cret": "user"}, "X-API-Key")
	router := NewRouter(&fakeService{}, provider)

	rec, _ := serve(t, router, http.MethodGet, "/api/kanban?jql=x", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", rec.Code)
	}
	rec, _ = serve(t, router, http.MethodGet, "/api/kanban?jql=x", "", map[string]string{"X-API-Key": "s3cret"})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with key, got %d", rec.Code)
	}
	rec, _ = serve(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected healthz to stay open, got %d", rec.Code)
	}
}

func TestQueryRequiresConfirmation(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(svc, nil)

	rec, _ := serve(t, router, http.MethodPost, "/api/query?jql=project%3DABC", "", nil)
	if rec.Code != http.StatusBadRequest || len(svc.queried) != 0 {
		t.Errorf("Expected 400 without confirmation and no query, got %d, %v", rec.Code, svc.queried)
	}

	rec, payload := serve(t, router, http.MethodPost, "/api/query?jql=project%3DABC&confirmed=TRUE", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", rec.Code, payload)
	}
	if len(svc.queried) != 1 || svc.queried[0] != "project=ABC" {
		t.Errorf("Unexpected queries %v", svc.queried)
	}
	if payload["issue_count"] != float64(2) || payload["cache_id"] != "abc" || payload["jql_preview"] != "(project=ABC)" {
		t.Errorf("Unexpected query response %v", payload)
	}
}

func TestCacheRoutes(t *testing.T) {
	router := NewRouter(&fakeService{}, nil)

	rec, payload := serve(t, router, http.MethodGet, "/api/cached_queries", "", nil)
	if rec.Code != http.StatusOK || payload["default_jql"] != "project = ABC" {
		t.Fatalf("Unexpected cached queries response %d %v", rec.Code, payload)
	}
	queries, _ := payload["queries"].([]interface{})
	if len(queries) != 1 {
		t.Fatalf("Expected one cached query, got %v", payload["queries"])
	}
	row, _ := queries[0].(map[string]interface{})
	if row["id"] != "abc" || row["name"] != "(project = ABC)" || row["custom_jql"] != "project = ABC" {
		t.Errorf("Expected flattened cache row, got %v", row)
	}

	rec, payload = serve(t, router, http.MethodGet, "/api/cache_sources", "", nil)
	if sources, _ := payload["sources"].([]interface{}); rec.Code != http.StatusOK || len(sources) != 1 {
		t.Errorf("Unexpected cache sources response %d %v", rec.Code, payload)
	}
}

func TestExportCSV(t *testing.T) {
	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodGet, "/api/export/csv?source=latest&assignee=Alice", nil)
	rec := httptest.NewRecorder()
	NewRouter(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "kanban_export.csv") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	if svc.query.Source != report.SourceLatest || svc.query.Assignee != "Alice" {
		t.Errorf("Unexpected export query %+v", svc.query)
	}

	want := "key,summary,assignee,priority,status,column,created_at,resolved_at,url\n" +
		"ABC-1,\"Login, then crash\",Alice,High,Done,Done,2026-03-02T09:00:00.000+0000,2026-03-04T10:00:00.000+0000,https://jira.example.com/browse/ABC-1\n"
	if rec.Body.String() != want {
		t.Errorf("Unexpected CSV body:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NewRouter(&fakeService{err: history.ErrCacheMiss}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export/csv", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 without cache, got %d", rec.Code)
	}
}
