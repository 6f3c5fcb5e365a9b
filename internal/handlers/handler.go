// Package handlers serves the downtime API. Reads come from the stored
// snapshots; only /downtime/calculate and /host-info reach the monitoring
// backend.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/auth"
	"github.com/ruby4mag/service-downtime-backend/internal/db"
	"github.com/ruby4mag/service-downtime-backend/internal/downtime"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
	"github.com/ruby4mag/service-downtime-backend/internal/scheduler"
	"github.com/ruby4mag/service-downtime-backend/internal/snapshot"
)

type Clients interface {
	ListClientIDs() []string
	Client(id string) (models.ClientConfig, bool)
	ServiceMap(id string) (map[string]string, error)
}

type Reports interface {
	Get(clientID string) (*models.DowntimeReport, bool, error)
}

type Recomputer interface {
	Recompute(ctx context.Context, clientID string, days int) (*models.DowntimeReport, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*auth.Identity, error)
}

type Sessions interface {
	Save(ctx context.Context, token string, session db.Session, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (db.Session, error)
}

type StateReporter interface {
	State() scheduler.State
}

type Deps struct {
	Clients       Clients
	Reports       Reports
	Engine        Recomputer
	Sources       downtime.SourceProvider
	Tokens        *auth.Manager
	Authenticator Authenticator
	Sessions      Sessions
	Scheduler     StateReporter
	Logger        *zap.Logger
}

type Handler struct {
	Deps
	logger *zap.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Deps: d, logger: logger.Named("http")}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.POST("/login", h.Login)
	r.POST("/refresh", h.RefreshToken)

	protected := r.Group("/api")
	protected.Use(h.Tokens.Middleware())
	{
		protected.GET("/clients", h.ListClients)

		client := protected.Group("/:clientId", auth.RequireClient(), h.resolveClient)
		client.GET("/services", h.Services)
		client.GET("/problems", h.Problems)
		client.GET("/dashboard", h.Dashboard)
		client.GET("/host-info", h.HostInfo)
		client.GET("/downtime/calculate", h.Calculate)
		client.GET("/downtime/report", h.Report)
		client.GET("/downtime/summary", h.Summary)
	}
}

const clientKey = "client"

// resolveClient loads the configuration of :clientId or answers 404.
func (h *Handler) resolveClient(c *gin.Context) {
	id := c.Param("clientId")
	cfg, ok := h.Clients.Client(id)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Client '" + id + "' not found"})
		return
	}
	c.Set(clientKey, cfg)
	c.Next()
}

func clientFrom(c *gin.Context) models.ClientConfig {
	return c.MustGet(clientKey).(models.ClientConfig)
}

// loadReport loads the client's report. It writes the response itself and
// returns nil when there is nothing more to do: no report yet (503), a
// read error (500) or a matching If-None-Match (304).
func (h *Handler) loadReport(c *gin.Context) *models.DowntimeReport {
	cfg := clientFrom(c)
	report, ok, err := h.Reports.Get(cfg.ClientID)
	if err != nil {
		h.logger.Error("reading report failed", zap.String("client", cfg.ClientID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read report"})
		return nil
	}
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Data not yet available. Wait for the next refresh cycle."})
		return nil
	}
	if notModified(c, report) {
		return nil
	}
	return report
}

// notModified sets the caching headers of report and answers 304 when the
// caller already has it.
func notModified(c *gin.Context, report *models.DowntimeReport) bool {
	token := snapshot.Token(report)
	c.Header("Cache-Control", "public, max-age=60")
	c.Header("Last-Modified", report.GeneratedAt.UTC().Format(http.TimeFormat))
	c.Header("ETag", token)

	if snapshot.TokenMatches(c.GetHeader("If-None-Match"), token) {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) Health(c *gin.Context) {
	state := "unknown"
	if h.Scheduler != nil {
		state = h.Scheduler.State().String()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"scheduler": state,
		"clients":   len(h.Clients.ListClientIDs()),
	})
}
