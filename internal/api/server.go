// Package api exposes the engine's operational HTTP surface: health, job
// introspection, manual check triggers, monitor status and metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/cache"
	"github.com/zateckar/uptimo-sub000/internal/config"
	"github.com/zateckar/uptimo-sub000/internal/dedup"
	"github.com/zateckar/uptimo-sub000/internal/metrics"
	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/scheduler"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

// Server wires the HTTP handlers to the engine components.
type Server struct {
	store     storage.Store
	sched     *scheduler.Scheduler
	dedup     *dedup.Service
	cache     cache.Cache
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    *logrus.Logger
	startedAt time.Time
}

// NewServer creates the API server.
func NewServer(
	store storage.Store,
	sched *scheduler.Scheduler,
	dedupSvc *dedup.Service,
	statusCache cache.Cache,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *logrus.Logger,
) *Server {
	return &Server{
		store:     store,
		sched:     sched,
		dedup:     dedupSvc,
		cache:     statusCache,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/jobs", s.jobs)
	router.GET("/monitors/:id/status", s.monitorStatus)
	router.POST("/monitors/:id/run", s.runNow)

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}
	return router
}

// Listen runs the HTTP server until it fails or is shut down.
func (s *Server) Listen() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) jobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.sched.Jobs()})
}

// statusResponse is the cached per-monitor status snapshot.
type statusResponse struct {
	MonitorID    string            `json:"monitor_id"`
	Name         string            `json:"name"`
	Status       monitor.Status    `json:"status"`
	Confirmed    bool              `json:"confirmed"`
	LastCheckAt  *time.Time        `json:"last_check_at,omitempty"`
	OpenIncident *monitor.Incident `json:"open_incident,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// monitorStatus serves the staleness-projected status, read through the
// cache.
func (s *Server) monitorStatus(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	key := cache.MonitorStatusKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		c.Data(http.StatusOK, "application/json", raw)
		return
	}

	m, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "monitor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	projection := monitor.EffectiveStatus(m, time.Now(), s.cfg.Checks.Staleness)
	resp := statusResponse{
		MonitorID:   m.ID,
		Name:        m.Name,
		Status:      projection.Status,
		Confirmed:   projection.Confirmed,
		LastCheckAt: m.LastCheckAt,
		GeneratedAt: time.Now().UTC(),
	}
	if incident, err := s.store.GetOpenIncident(ctx, id); err == nil {
		resp.OpenIncident = incident
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.cache.Set(ctx, key, payload, s.cfg.Cache.TTL)
	c.Data(http.StatusOK, "application/json", payload)
}

func (s *Server) runNow(c *gin.Context) {
	id := c.Param("id")
	if err := s.sched.RunNow(id); err != nil {
		if errors.Is(err, scheduler.ErrNotScheduled) {
			c.JSON(http.StatusNotFound, gin.H{"error": "monitor is not scheduled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}
