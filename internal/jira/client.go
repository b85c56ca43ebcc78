package jira

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tuannvm/jira-pulse/internal/config"
	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/models"
)

const (
	searchPath   = "/rest/api/2/search"
	searchFields = "summary,status,priority,assignee,created,updated,resolutiondate,description,issuetype,sprint"
)

var (
	// ErrAuth is returned for 401 and 403 responses.
	ErrAuth = errors.New("authentication or permission denied by Jira API")
	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("jira API rate limit reached")
	// ErrServer is returned for 5xx responses.
	ErrServer = errors.New("jira API server error")
	// ErrUnavailable wraps transport failures reaching Jira.
	ErrUnavailable = errors.New("failed to call Jira API")
	// ErrNoJQL is returned when neither configured filters nor a query were given.
	ErrNoJQL = errors.New("at least one JQL clause is required")
)

// RequestError is any other 4xx response.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("jira API request failed: %d %s", e.StatusCode, e.Body)
}

// IssueSource supplies raw issues for a JQL query.
type IssueSource interface {
	SearchIssues(ctx context.Context, jql string) ([]models.Issue, error)
	BuildSearchJQL(jql string) (string, error)
}

// Client represents a Jira API client
type Client struct {
	config     config.JiraConfig
	httpClient *http.Client
}

var _ IssueSource = (*Client)(nil)

// NewClient creates a new Jira client
func NewClient(cfg config.JiraConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for self-hosted Jira
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// BuildSearchJQL ANDs the configured filters with jql, each parenthesized.
func (c *Client) BuildSearchJQL(jql string) (string, error) {
	var clauses []string
	for _, filter := range c.config.JQLFilters {
		clauses = append(clauses, "("+filter+")")
	}
	if jql = strings.TrimSpace(jql); jql != "" {
		clauses = append(clauses, "("+jql+")")
	}
	if len(clauses) == 0 {
		return "", ErrNoJQL
	}
	return strings.Join(clauses, " AND "), nil
}

type searchPage struct {
	Issues []models.Issue `json:"issues"`
	Total  *int           `json:"total"`
}

// SearchIssues pages through the search API with the changelog expanded.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]models.Issue, error) {
	searchJQL, err := c.BuildSearchJQL(jql)
	if err != nil {
		return nil, err
	}

	issues := []models.Issue{}
	startAt := 0
	for {
		params := url.Values{}
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(c.config.PageSize))
		params.Set("expand", "changelog")
		params.Set("jql", searchJQL)
		params.Set("fields", searchFields)

		var page searchPage
		if err := c.get(ctx, searchPath, params, &page); err != nil {
			return nil, err
		}
		issues = append(issues, page.Issues...)

		total := len(issues)
		if page.Total != nil {
			total = *page.Total
		}
		logging.Debugf("Fetched %d issues (startAt=%d, total=%d)", len(page.Issues), startAt, total)
		if startAt+c.config.PageSize >= total || len(page.Issues) == 0 {
			break
		}
		startAt += c.config.PageSize
	}
	return issues, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.config.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrServer
	case code >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RequestError{StatusCode: code, Body: string(body)}
	}
	return nil
}

// IsJiraError reports whether err came from the Jira API rather than the
// caller's input or the local environment.
func IsJiraError(err error) bool {
	var reqErr *RequestError
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServer) || errors.Is(err, ErrUnavailable) || errors.As(err, &reqErr)
}

// addAuthHeader adds authentication headers to the request
func (c *Client) addAuthHeader(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(c.config.Username + ":" + c.config.Password))
	req.Header.Set("Authorization", "Basic "+auth)
}
