// Package httpapi serves the reports as JSON over HTTP.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"trpc.group/trpc-go/trpc-a2a-go/auth"

	"github.com/tuannvm/jira-pulse/internal/logging"
)

// NewRouter builds the gin engine. provider may be nil to leave the report
// routes open; the Jira webhook is never behind it since Jira cannot send
// the credentials.
func NewRouter(svc Service, provider auth.Provider) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Infof("http %s %s %d %s", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	})

	h := NewHandlers(svc)

	r.GET("/healthz", h.Healthz)
	r.POST("/api/webhook/jira", h.JiraWebhook)

	api := r.Group("/api")
	if provider != nil {
		api.Use(requireAuth(provider))
	}
	api.GET("/kanban", h.Kanban)
	api.GET("/gantt", h.Gantt)
	api.GET("/query", h.Query)
	api.POST("/query", h.Query)
	api.GET("/cached_queries", h.CachedQueries)
	api.GET("/cache_sources", h.CacheSources)
	api.GET("/export/csv", h.ExportCSV)
	api.GET("/history/team_issues", h.TeamIssueHistory)

	return r
}

func requireAuth(provider auth.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := provider.Authenticate(c.Request); err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
