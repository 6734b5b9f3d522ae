package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/uptimo-sub000/internal/cache"
	"github.com/zateckar/uptimo-sub000/internal/checker"
	"github.com/zateckar/uptimo-sub000/internal/config"
	"github.com/zateckar/uptimo-sub000/internal/dedup"
	"github.com/zateckar/uptimo-sub000/internal/dispatch"
	"github.com/zateckar/uptimo-sub000/internal/metrics"
	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/scheduler"
	"github.com/zateckar/uptimo-sub000/internal/status"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *scheduler.Scheduler) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cfg := config.Default()
	cfg.Cache.Type = "memory"

	runner := checker.NewRunner(checker.Config{UserAgent: "test"}, logger)
	engine := status.NewEngine(store, logger)
	dispatcher := dispatch.NewDispatcher(store, logger)
	dedupSvc := dedup.NewService(store, logger)
	statusCache, err := cache.New(&cfg.Cache)
	require.NoError(t, err)
	promMetrics := metrics.New("test")

	sched := scheduler.New(store, runner, engine, dispatcher, dedupSvc,
		statusCache, promMetrics, cfg.Scheduler, cfg.Notifications, logger)
	t.Cleanup(sched.Stop)

	return NewServer(store, sched, dedupSvc, statusCache, promMetrics, cfg, logger), store, sched
}

func apiMonitor() *monitor.Monitor {
	checked := time.Now().UTC().Add(-30 * time.Second)
	return &monitor.Monitor{
		ID:              "mon-1",
		Name:            "api",
		Type:            monitor.TypeHTTP,
		Target:          "https://example.com",
		IntervalSeconds: 60,
		Active:          true,
		LastStatus:      monitor.StatusUp,
		LastCheckAt:     &checked,
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestJobsEndpoint(t *testing.T) {
	server, store, sched := newTestServer(t)
	m := apiMonitor()
	store.PutMonitor(m)
	sched.ScheduleMonitor(m, false)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Jobs []scheduler.JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "mon-1", body.Jobs[0].MonitorID)
}

func TestMonitorStatusEndpoint(t *testing.T) {
	server, store, _ := newTestServer(t)
	store.PutMonitor(apiMonitor())
	router := server.Router()

	t.Run("known monitor", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitors/mon-1/status", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body statusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, monitor.StatusUp, body.Status)
		assert.True(t, body.Confirmed)
	})

	t.Run("stale monitor projects unknown", func(t *testing.T) {
		stale := apiMonitor()
		stale.ID = "mon-stale"
		checked := time.Now().UTC().Add(-11 * time.Minute)
		stale.LastCheckAt = &checked
		store.PutMonitor(stale)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitors/mon-stale/status", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body statusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, monitor.StatusUnknown, body.Status)
	})

	t.Run("unknown monitor is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitors/ghost/status", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRunNowEndpoint(t *testing.T) {
	server, store, sched := newTestServer(t)
	m := apiMonitor()
	m.Target = "http://127.0.0.1:1"
	m.TimeoutSeconds = 1
	store.PutMonitor(m)
	sched.ScheduleMonitor(m, false)
	router := server.Router()

	t.Run("scheduled monitor is accepted", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/monitors/mon-1/run", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("unknown monitor is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/monitors/ghost/run", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
