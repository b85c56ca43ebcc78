// Package report wires the issue source, the normalizer, the aggregators and
// the team issue history into the report payloads served by every surface.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tuannvm/jira-pulse/internal/analytics"
	"github.com/tuannvm/jira-pulse/internal/history"
	"github.com/tuannvm/jira-pulse/internal/jira"
	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/metrics"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
	"github.com/tuannvm/jira-pulse/internal/period"
)

var (
	// ErrHistoryDisabled is returned by history operations when no store is configured.
	ErrHistoryDisabled = errors.New("team issue history is disabled")
	// ErrCacheDisabled is returned by cache reads and queries when no cache is configured.
	ErrCacheDisabled = errors.New("query cache is disabled")
)

// Issue sources of a Query. Every mode but SourceLive reads the query cache.
const (
	SourceLive      = "live"
	SourceAuto      = "auto"
	SourceLatest    = "latest"
	SourceRequested = "requested"
	SourceCacheID   = "cache_id"
)

// HistoryStore is the part of the team issue history the service needs.
type HistoryStore interface {
	Record(ctx context.Context, issues []models.Issue, meta history.RecordMeta, baseURL string, teams []models.Team) error
	HistoricalCards(ctx context.Context) ([]models.Card, error)
	Overview(ctx context.Context) (history.Overview, error)
}

// QueryCache keeps the latest issues of each effective JQL.
type QueryCache interface {
	SaveCache(ctx context.Context, customJQL, jqlPreview string, issues []models.Issue) (history.CachedQuery, error)
	LoadCache(ctx context.Context, id string) (*history.CachedQuery, error)
	CacheSources(ctx context.Context) ([]history.CachedQuery, error)
}

// Narrator rewrites the summary sentence for a period label.
type Narrator interface {
	Rewrite(ctx context.Context, label, text string) (string, error)
}

// Options configures a Service. Source is required; History, Cache and
// Narrator may be nil to disable those features.
type Options struct {
	Source   jira.IssueSource
	History  HistoryStore
	Cache    QueryCache
	Narrator Narrator
	Settings normalize.Settings
	BaseURL  string
	Now      func() time.Time
}

// Service builds reports. It holds no mutable state and is safe for
// concurrent use.
type Service struct {
	source     jira.IssueSource
	history    HistoryStore
	cache      QueryCache
	narrator   Narrator
	settings   normalize.Settings
	baseURL    string
	normalizer *normalize.Normalizer
	resolver   period.Resolver
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	return &Service{
		source:     opts.Source,
		history:    opts.History,
		cache:      opts.Cache,
		narrator:   opts.Narrator,
		settings:   opts.Settings,
		baseURL:    opts.BaseURL,
		normalizer: normalize.New(opts.BaseURL, opts.Settings),
		resolver:   period.Resolver{Now: opts.Now},
	}
}

// Query selects and filters the cards of one report. Source picks where the
// issues come from; empty means SourceLive.
type Query struct {
	JQL             string
	Source          string
	CacheID         string
	Assignee        string
	Priority        string
	Keyword         string
	Window          string
	Start           string
	End             string
	DebugAssignment bool
}

func (q Query) filter() normalize.Filter {
	return normalize.Filter{Assignee: q.Assignee, Priority: q.Priority, Keyword: q.Keyword}
}

// Filters lists the values the board can be narrowed by.
type Filters struct {
	Assignees  []string `json:"assignees" yaml:"assignees"`
	Priorities []string `json:"priorities" yaml:"priorities"`
}

// CacheMeta tells which cached result a report was built from. It is empty
// for live reports.
type CacheMeta struct {
	Source   string `json:"cache_source,omitempty" yaml:"cache_source,omitempty"`
	Mode     string `json:"cache_mode,omitempty" yaml:"cache_mode,omitempty"`
	ID       string `json:"cache_id,omitempty" yaml:"cache_id,omitempty"`
	Fallback bool   `json:"cache_fallback" yaml:"cache_fallback"`
}

// Summary is the manager summary plus member metrics for a query.
type Summary struct {
	analytics.ManagerSummary `yaml:",inline"`
	CacheMeta                `yaml:",inline"`
	Metrics                  []metrics.MemberMetricRow `json:"metrics" yaml:"metrics"`
	JQLPreview               string                    `json:"jql_preview" yaml:"jql_preview"`
	IssueCount               int                       `json:"issue_count" yaml:"issue_count"`
}

// Kanban is the full board payload.
type Kanban struct {
	Summary         `yaml:",inline"`
	Columns         []normalize.ColumnGroup    `json:"columns" yaml:"columns"`
	Cards           []models.Card              `json:"cards" yaml:"cards"`
	Filters         Filters                    `json:"filters" yaml:"filters"`
	AssignmentDebug *analytics.AssignmentDebug `json:"assignment_debug,omitempty" yaml:"assignment_debug,omitempty"`
}

// Gantt is the timeline payload.
type Gantt struct {
	Rows       []metrics.GanttRow `json:"rows" yaml:"rows"`
	Mode       string             `json:"mode" yaml:"mode"`
	JQLPreview string             `json:"jql_preview" yaml:"jql_preview"`
	CacheMeta  `yaml:",inline"`
}

// QueryResult describes a fetch that refreshed the cache and the history.
type QueryResult struct {
	IssueCount  int    `json:"issue_count" yaml:"issue_count"`
	JQLPreview  string `json:"jql_preview" yaml:"jql_preview"`
	CacheID     string `json:"cache_id,omitempty" yaml:"cache_id,omitempty"`
	CacheSource string `json:"cache_source,omitempty" yaml:"cache_source,omitempty"`
}

// CachedQueries lists the cached results still valid for the configured
// filters, newest first.
type CachedQueries struct {
	Queries    []CachedQueryRow `json:"queries" yaml:"queries"`
	DefaultJQL string           `json:"default_jql" yaml:"default_jql"`
}

// CachedQueryRow is one entry of CachedQueries.
type CachedQueryRow struct {
	history.CachedQuery `yaml:",inline"`
	Name                string `json:"name" yaml:"name"`
}

// Kanban fetches the query's issues and builds the board, its metrics and
// the period summary.
func (s *Service) Kanban(ctx context.Context, q Query) (*Kanban, error) {
	cards, preview, meta, err := s.cards(ctx, q)
	if err != nil {
		return nil, err
	}
	window := s.resolver.Resolve(q.Window, q.Start, q.End, cards)

	out := &Kanban{
		Summary: s.summarize(ctx, cards, window, preview, meta),
		Columns: normalize.SplitColumns(cards),
		Cards:   cards,
		Filters: buildFilters(cards),
	}
	if q.DebugAssignment {
		debug := analytics.BuildAssignmentDebug(cards, window)
		out.AssignmentDebug = &debug
	}
	return out, nil
}

// Summary fetches the query's issues and builds the period summary and
// member metrics only.
func (s *Service) Summary(ctx context.Context, q Query) (*Summary, error) {
	cards, preview, meta, err := s.cards(ctx, q)
	if err != nil {
		return nil, err
	}
	window := s.resolver.Resolve(q.Window, q.Start, q.End, cards)
	summary := s.summarize(ctx, cards, window, preview, meta)
	return &summary, nil
}

// Gantt builds gantt rows in mode; an empty mode means member.
func (s *Service) Gantt(ctx context.Context, q Query, mode string) (*Gantt, error) {
	if mode == "" {
		mode = metrics.GanttMember
	}
	if !metrics.ValidGanttMode(mode) {
		return nil, metrics.ErrInvalidGanttMode
	}
	cards, preview, meta, err := s.cards(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Gantt{
		Rows:       metrics.BuildGanttRows(cards, mode),
		Mode:       mode,
		JQLPreview: preview,
		CacheMeta:  meta,
	}, nil
}

// Cards returns the filtered cards of q, as used by exports.
func (s *Service) Cards(ctx context.Context, q Query) ([]models.Card, CacheMeta, error) {
	cards, _, meta, err := s.cards(ctx, q)
	return cards, meta, err
}

// Sync fetches jql and records the result into the history store, and into
// the query cache when one is configured. A storage failure fails the sync.
func (s *Service) Sync(ctx context.Context, jql string) (int, error) {
	if s.history == nil {
		return 0, ErrHistoryDisabled
	}
	res, err := s.refresh(ctx, jql)
	if err != nil {
		return 0, err
	}
	return res.IssueCount, nil
}

// RunQuery fetches jql and stores the issues as the cached result of their
// effective JQL, recording them into the history store as well.
func (s *Service) RunQuery(ctx context.Context, jql string) (*QueryResult, error) {
	if s.cache == nil {
		return nil, ErrCacheDisabled
	}
	return s.refresh(ctx, jql)
}

// CacheSources lists every cached result, newest first.
func (s *Service) CacheSources(ctx context.Context) ([]history.CachedQuery, error) {
	if s.cache == nil {
		return nil, ErrCacheDisabled
	}
	return s.cache.CacheSources(ctx)
}

// CachedQueries lists cached results whose stored JQL still matches what the
// configured filters build from their custom JQL.
func (s *Service) CachedQueries(ctx context.Context) (*CachedQueries, error) {
	sources, err := s.CacheSources(ctx)
	if err != nil {
		return nil, err
	}
	out := &CachedQueries{Queries: []CachedQueryRow{}}
	for _, src := range sources {
		preview := s.previewFor(src.CustomJQL)
		if src.JQLPreview != preview {
			continue
		}
		out.Queries = append(out.Queries, CachedQueryRow{CachedQuery: src, Name: preview})
	}
	if len(out.Queries) > 0 {
		out.DefaultJQL = out.Queries[0].CustomJQL
	}
	return out, nil
}

// RecordWebhook stores the issue carried by a webhook delivery.
func (s *Service) RecordWebhook(ctx context.Context, event *jira.WebhookEvent) error {
	if s.history == nil {
		return ErrHistoryDisabled
	}
	meta := history.RecordMeta{JQLPreview: "webhook:" + event.Event}
	if err := s.history.Record(ctx, []models.Issue{event.Issue}, meta, s.baseURL, s.settings.Teams); err != nil {
		return fmt.Errorf("record webhook for %s: %w", event.Issue.Key, err)
	}
	logging.Infof("Recorded %s webhook for %s", event.Event, event.Issue.Key)
	return nil
}

// HistoryOverview returns the stored team issue history.
func (s *Service) HistoryOverview(ctx context.Context) (history.Overview, error) {
	if s.history == nil {
		return history.Overview{}, ErrHistoryDisabled
	}
	return s.history.Overview(ctx)
}

func (s *Service) search(ctx context.Context, jql string) ([]models.Issue, string, error) {
	preview, err := s.source.BuildSearchJQL(jql)
	if err != nil {
		return nil, "", err
	}

	logging.Infof("Fetching issues for %s", preview)
	issues, err := s.source.SearchIssues(ctx, jql)
	if err != nil {
		return nil, preview, err
	}
	logging.Infof("Fetched %d issues", len(issues))
	return issues, preview, nil
}

// fetch searches the source and records the issues into history. A history
// failure is logged and does not fail the fetch.
func (s *Service) fetch(ctx context.Context, jql string) ([]models.Issue, string, error) {
	jql = strings.TrimSpace(jql)
	issues, preview, err := s.search(ctx, jql)
	if err != nil {
		return nil, preview, err
	}

	if s.history != nil {
		meta := history.RecordMeta{CustomJQL: jql, JQLPreview: preview}
		if err := s.history.Record(ctx, issues, meta, s.baseURL, s.settings.Teams); err != nil {
			logging.Warnf("Failed to record team issue history: %v", err)
		}
	}
	return issues, preview, nil
}

// refresh searches the source and writes the issues to the cache and the
// history store, failing on any storage error.
func (s *Service) refresh(ctx context.Context, jql string) (*QueryResult, error) {
	jql = strings.TrimSpace(jql)
	issues, preview, err := s.search(ctx, jql)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{IssueCount: len(issues), JQLPreview: preview}
	if s.cache != nil {
		entry, err := s.cache.SaveCache(ctx, jql, preview, issues)
		if err != nil {
			return nil, fmt.Errorf("cache query result: %w", err)
		}
		res.CacheID = entry.ID
		res.CacheSource = cacheSource(entry.ID)
	}
	if s.history != nil {
		meta := history.RecordMeta{CustomJQL: jql, JQLPreview: preview}
		if err := s.history.Record(ctx, issues, meta, s.baseURL, s.settings.Teams); err != nil {
			return nil, fmt.Errorf("record team issue history: %w", err)
		}
	}
	return res, nil
}

// previewFor is the effective JQL of a custom JQL, empty when none can be built.
func (s *Service) previewFor(jql string) string {
	preview, err := s.source.BuildSearchJQL(strings.TrimSpace(jql))
	if err != nil {
		return ""
	}
	return preview
}

func cacheSource(id string) string {
	return "query_cache/" + id
}

// loadCached resolves a cache source mode. cache_id reads the named entry,
// latest the newest one; any other mode reads the entry of the requested JQL,
// and all but requested fall back to the newest entry when it is missing.
func (s *Service) loadCached(ctx context.Context, q Query) (*history.CachedQuery, CacheMeta, error) {
	if s.cache == nil {
		return nil, CacheMeta{}, ErrCacheDisabled
	}
	mode := strings.ToLower(strings.TrimSpace(q.Source))
	load := func(id string, fallback bool) (*history.CachedQuery, CacheMeta, error) {
		entry, err := s.cache.LoadCache(ctx, id)
		if err != nil {
			return nil, CacheMeta{}, err
		}
		return entry, CacheMeta{Source: cacheSource(entry.ID), Mode: mode, ID: entry.ID, Fallback: fallback}, nil
	}
	latest := func(fallback bool) (*history.CachedQuery, CacheMeta, error) {
		sources, err := s.cache.CacheSources(ctx)
		if err != nil {
			return nil, CacheMeta{}, err
		}
		if len(sources) == 0 {
			return nil, CacheMeta{}, history.ErrCacheMiss
		}
		return load(sources[0].ID, fallback)
	}

	if mode == SourceCacheID && q.CacheID != "" {
		return load(q.CacheID, false)
	}
	if mode == SourceLatest {
		return latest(false)
	}

	entry, meta, err := load(history.CacheID(s.previewFor(q.JQL)), false)
	if err == nil {
		return entry, meta, nil
	}
	if !errors.Is(err, history.ErrCacheMiss) || mode == SourceRequested {
		return nil, CacheMeta{}, err
	}
	return latest(true)
}

func (s *Service) cards(ctx context.Context, q Query) ([]models.Card, string, CacheMeta, error) {
	var (
		issues  []models.Issue
		preview string
		meta    CacheMeta
		err     error
	)
	source := strings.ToLower(strings.TrimSpace(q.Source))
	if source == "" || source == SourceLive {
		issues, preview, err = s.fetch(ctx, q.JQL)
	} else {
		var entry *history.CachedQuery
		entry, meta, err = s.loadCached(ctx, q)
		if entry != nil {
			issues, preview = entry.Issues, entry.JQLPreview
		}
	}
	if err != nil {
		return nil, preview, CacheMeta{}, err
	}
	cards := normalize.FilterCards(s.normalizer.NormalizeAll(issues), q.filter())
	return cards, preview, meta, nil
}

func (s *Service) summarize(ctx context.Context, cards []models.Card, window period.Window, preview string, meta CacheMeta) Summary {
	teams := s.settings.Teams
	summary := analytics.BuildManagerSummary(cards, window, teams)

	if supplemental := s.supplementalCards(ctx, cards); len(supplemental) > 0 {
		historical := analytics.BuildManagerSummary(supplemental, window, teams)
		summary = analytics.MergeTransferOut(summary, historical)
		summary.Text = analytics.HistoryNarrative(summary.Text, summary.Cards)
	}

	if s.narrator != nil {
		text, err := s.narrator.Rewrite(ctx, window.Label, summary.Text)
		if err != nil {
			logging.Warnf("Keeping generated narrative, rewrite failed: %v", err)
		} else {
			summary.Text = text
		}
	}

	return Summary{
		ManagerSummary: summary,
		CacheMeta:      meta,
		Metrics:        metrics.ComputeMemberMetrics(cards, teams),
		JQLPreview:     preview,
		IssueCount:     len(cards),
	}
}

// supplementalCards are the historical cards absent from the current set.
func (s *Service) supplementalCards(ctx context.Context, cards []models.Card) []models.Card {
	if s.history == nil {
		return nil
	}
	historical, err := s.history.HistoricalCards(ctx)
	if err != nil {
		logging.Warnf("Skipping history supplement: %v", err)
		return nil
	}

	current := make(map[string]struct{}, len(cards))
	for _, card := range cards {
		current[card.Key] = struct{}{}
	}
	var out []models.Card
	for _, card := range historical {
		if card.Key == "" {
			continue
		}
		if _, ok := current[card.Key]; ok {
			continue
		}
		out = append(out, card)
	}
	return out
}

func buildFilters(cards []models.Card) Filters {
	assignees, priorities := map[string]struct{}{}, map[string]struct{}{}
	for _, card := range cards {
		assignees[card.Assignee] = struct{}{}
		priorities[card.Priority] = struct{}{}
	}
	return Filters{Assignees: sortedSet(assignees), Priorities: sortedSet(priorities)}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
