package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tuannvm/jira-pulse/internal/history"
	"github.com/tuannvm/jira-pulse/internal/jira"
	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/metrics"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/report"
)

// Service is what the handlers need from the report service.
type Service interface {
	Kanban(ctx context.Context, q report.Query) (*report.Kanban, error)
	Gantt(ctx context.Context, q report.Query, mode string) (*report.Gantt, error)
	Cards(ctx context.Context, q report.Query) ([]models.Card, report.CacheMeta, error)
	RunQuery(ctx context.Context, jql string) (*report.QueryResult, error)
	CachedQueries(ctx context.Context) (*report.CachedQueries, error)
	CacheSources(ctx context.Context) ([]history.CachedQuery, error)
	HistoryOverview(ctx context.Context) (history.Overview, error)
	RecordWebhook(ctx context.Context, event *jira.WebhookEvent) error
}

// maxWebhookBody caps webhook payloads; Jira sends the full issue.
const maxWebhookBody = 5 << 20

type Handlers struct {
	svc Service
}

func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// queryFrom reads report parameters. Reports read the query cache unless
// source=live is given.
func queryFrom(c *gin.Context) report.Query {
	return report.Query{
		JQL:             c.Query("jql"),
		Source:          c.DefaultQuery("source", report.SourceAuto),
		CacheID:         c.Query("cache_id"),
		Assignee:        c.Query("assignee"),
		Priority:        c.Query("priority"),
		Keyword:         c.Query("q"),
		Window:          c.DefaultQuery("window", "weekly"),
		Start:           c.Query("start"),
		End:             c.Query("end"),
		DebugAssignment: strings.EqualFold(strings.TrimSpace(c.Query("debug_assignment")), "true"),
	}
}

func (h *Handlers) Kanban(c *gin.Context) {
	board, err := h.svc.Kanban(c.Request.Context(), queryFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *Handlers) Gantt(c *gin.Context) {
	gantt, err := h.svc.Gantt(c.Request.Context(), queryFrom(c), c.DefaultQuery("mode", metrics.GanttMember))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gantt)
}

// Query fetches from Jira and refreshes the cache. It needs confirmed=true
// since it hits Jira and writes the history.
func (h *Handlers) Query(c *gin.Context) {
	if !strings.EqualFold(strings.TrimSpace(c.Query("confirmed")), "true") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Jira query requires confirmation. Set confirmed=true."})
		return
	}
	res, err := h.svc.RunQuery(c.Request.Context(), c.Query("jql"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) CachedQueries(c *gin.Context) {
	queries, err := h.svc.CachedQueries(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, queries)
}

func (h *Handlers) CacheSources(c *gin.Context) {
	sources, err := h.svc.CacheSources(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (h *Handlers) ExportCSV(c *gin.Context) {
	cards, _, err := h.svc.Cards(c.Request.Context(), queryFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCardsCSV(&buf, cards); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="kanban_export.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handlers) TeamIssueHistory(c *gin.Context) {
	overview, err := h.svc.HistoryOverview(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handlers) JiraWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	event, err := jira.ParseWebhook(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RecordWebhook(c.Request.Context(), event); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded", "key": event.Issue.Key, "event": event.Event})
}

// fail maps service errors to status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, metrics.ErrInvalidGanttMode), errors.Is(err, jira.ErrNoJQL):
		status = http.StatusBadRequest
	case errors.Is(err, history.ErrCacheMiss):
		c.JSON(http.StatusConflict, gin.H{"error": "No local query cache found. Call /api/query first."})
		return
	case errors.Is(err, report.ErrHistoryDisabled), errors.Is(err, report.ErrCacheDisabled):
		status = http.StatusServiceUnavailable
	case jira.IsJiraError(err):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logging.Warnf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
