// Package scheduler owns the per-monitor check timers and the execution
// pipeline that turns a timer fire into a persisted check result.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/cache"
	"github.com/zateckar/uptimo-sub000/internal/checker"
	"github.com/zateckar/uptimo-sub000/internal/config"
	"github.com/zateckar/uptimo-sub000/internal/dedup"
	"github.com/zateckar/uptimo-sub000/internal/dispatch"
	"github.com/zateckar/uptimo-sub000/internal/metrics"
	"github.com/zateckar/uptimo-sub000/internal/monitor"
	"github.com/zateckar/uptimo-sub000/internal/status"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

// ErrNotScheduled is returned by RunNow for an unknown monitor.
var ErrNotScheduled = errors.New("monitor is not scheduled")

// JobInfo is a read-only snapshot of one scheduled monitor, exposed for
// introspection.
type JobInfo struct {
	MonitorID string        `json:"monitor_id"`
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	NextRun   time.Time     `json:"next_run"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	Running   bool          `json:"running"`
	Pending   bool          `json:"pending"`
}

// job is one monitor's schedule entry. The running/pending flags implement
// overlap coalescing: a fire during an in-flight run is collapsed into a
// single follow-up run.
type job struct {
	monitorID string
	name      string
	interval  time.Duration
	timer     *time.Timer
	nextRun   time.Time
	lastRun   time.Time
	running   bool
	pending   bool
}

// Scheduler maintains one timer per active monitor and executes checks
// through the probe, status, notification, dedup and persistence layers.
type Scheduler struct {
	store      storage.Store
	runner     *checker.Runner
	engine     *status.Engine
	dispatcher *dispatch.Dispatcher
	dedup      *dedup.Service
	cache      cache.Cache
	metrics    *metrics.Metrics
	cfg        config.SchedulerConfig
	notifyCfg  config.NotificationsConfig
	logger     *logrus.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool

	cron *cron.Cron
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler. Call ScheduleAll to load the initial timer set and
// Start to begin the reconcile sweep.
func New(
	store storage.Store,
	runner *checker.Runner,
	engine *status.Engine,
	dispatcher *dispatch.Dispatcher,
	dedupSvc *dedup.Service,
	statusCache cache.Cache,
	m *metrics.Metrics,
	cfg config.SchedulerConfig,
	notifyCfg config.NotificationsConfig,
	logger *logrus.Logger,
) *Scheduler {
	maxConcurrent := cfg.MaxConcurrentChecks
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:      store,
		runner:     runner,
		engine:     engine,
		dispatcher: dispatcher,
		dedup:      dedupSvc,
		cache:      statusCache,
		metrics:    m,
		cfg:        cfg,
		notifyCfg:  notifyCfg,
		logger:     logger,
		jobs:       make(map[string]*job),
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// Start launches the periodic reconcile sweep that re-syncs the timer set
// against the monitor store, picking up monitors created, activated or
// deactivated by the CRUD layer.
func (s *Scheduler) Start() error {
	spec := s.cfg.ReconcileSpec
	if spec == "" {
		spec = "@every 1m"
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.ScheduleAll(context.Background()); err != nil {
			s.logger.WithError(err).Error("schedule reconcile failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile spec %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.WithField("reconcile", spec).Info("scheduler started")
	return nil
}

// ScheduleMonitor installs or replaces the timer for one monitor. A check
// fires right away when runImmediately is set or the monitor has never been
// checked; otherwise the first run happens after one interval.
func (s *Scheduler) ScheduleMonitor(m *monitor.Monitor, runImmediately bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	interval := m.Interval()
	j, ok := s.jobs[m.ID]
	if ok {
		// Reuse the entry so an in-flight run keeps holding the overlap
		// lock across the replacement.
		j.timer.Stop()
		j.name = m.Name
		j.interval = interval
		j.nextRun = time.Now().Add(interval)
		j.timer.Reset(interval)
	} else {
		j = &job{
			monitorID: m.ID,
			name:      m.Name,
			interval:  interval,
			nextRun:   time.Now().Add(interval),
		}
		monitorID := m.ID
		j.timer = time.AfterFunc(interval, func() { s.onFire(monitorID) })
		s.jobs[m.ID] = j
	}
	s.metrics.ScheduledJobs.Set(float64(len(s.jobs)))
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"monitor":  m.Name,
		"interval": interval,
	}).Debug("monitor scheduled")

	if runImmediately || m.LastCheckAt == nil {
		s.tryRun(j)
	}
}

// UnscheduleMonitor stops and removes the monitor's timer. Unknown IDs are a
// no-op. An in-flight check finishes but its pending follow-up is dropped.
func (s *Scheduler) UnscheduleMonitor(monitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[monitorID]
	if !ok {
		return
	}
	j.timer.Stop()
	j.pending = false
	delete(s.jobs, monitorID)
	s.metrics.ScheduledJobs.Set(float64(len(s.jobs)))
	s.logger.WithField("monitor", j.name).Debug("monitor unscheduled")
}

// ScheduleAll reconciles the timer set against the store: every active
// monitor gets a schedule, every job without an active monitor is removed.
// Existing jobs keep their timers unless the interval changed.
func (s *Scheduler) ScheduleAll(ctx context.Context) error {
	monitors, err := s.store.GetActiveMonitors(ctx)
	if err != nil {
		return fmt.Errorf("loading active monitors: %w", err)
	}

	active := make(map[string]*monitor.Monitor, len(monitors))
	for _, m := range monitors {
		active[m.ID] = m
	}

	s.mu.Lock()
	var stale []string
	for id := range s.jobs {
		if _, ok := active[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.UnscheduleMonitor(id)
	}
	for _, m := range monitors {
		s.mu.Lock()
		existing, ok := s.jobs[m.ID]
		unchanged := ok && existing.interval == m.Interval()
		s.mu.Unlock()
		if unchanged {
			continue
		}
		s.ScheduleMonitor(m, false)
	}
	return nil
}

// RunNow forces a check for the monitor outside its cadence. The run is
// subject to the same coalescing as timer fires; if a check is already in
// flight, one follow-up run is queued instead.
func (s *Scheduler) RunNow(monitorID string) error {
	s.mu.Lock()
	j, ok := s.jobs[monitorID]
	s.mu.Unlock()
	if !ok {
		return ErrNotScheduled
	}
	s.tryRun(j)
	return nil
}

// Jobs returns a snapshot of all scheduled monitors, sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			MonitorID: j.monitorID,
			Name:      j.name,
			Interval:  j.interval,
			NextRun:   j.nextRun,
			LastRun:   j.lastRun,
			Running:   j.running,
			Pending:   j.pending,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(a, b int) bool { return infos[a].Name < infos[b].Name })
	return infos
}

// Stop halts the reconcile sweep and all timers, then waits up to the
// configured grace period for in-flight checks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, j := range s.jobs {
		j.timer.Stop()
		j.pending = false
	}
	s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(grace):
		s.logger.Warn("scheduler stop timed out with checks in flight")
	}
}

// onFire handles a timer expiry: rearm for the next interval, then attempt a
// run.
func (s *Scheduler) onFire(monitorID string) {
	s.mu.Lock()
	j, ok := s.jobs[monitorID]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	j.nextRun = time.Now().Add(j.interval)
	j.timer.Reset(j.interval)
	s.mu.Unlock()

	s.tryRun(j)
}

// tryRun starts an execution unless one is already in flight, in which case
// a single pending follow-up is recorded. Multiple fires during one run
// collapse into one follow-up.
func (s *Scheduler) tryRun(j *job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if j.running {
		j.pending = true
		s.mu.Unlock()
		return
	}
	j.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j)

		s.mu.Lock()
		j.running = false
		j.lastRun = time.Now()
		rerun := j.pending && !s.stopped
		j.pending = false
		s.mu.Unlock()

		if rerun {
			s.tryRun(j)
		}
	}()
}

// execute runs the full check pipeline for one monitor. A panic anywhere in
// the pipeline is converted into a synthetic execution-error result so the
// schedule keeps going.
func (s *Scheduler) execute(j *job) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("monitor", j.name).Errorf("check panicked: %v", r)
			s.recordExecutionError(ctx, j.monitorID, fmt.Sprintf("panic: %v", r))
		}
	}()

	// Fresh read at fire time so config edits and deactivation take effect
	// without waiting for the reconcile sweep.
	m, err := s.store.GetMonitor(ctx, j.monitorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.UnscheduleMonitor(j.monitorID)
			return
		}
		s.logger.WithField("monitor", j.name).WithError(err).Error("loading monitor failed")
		return
	}
	if !m.Active {
		s.UnscheduleMonitor(m.ID)
		return
	}

	start := time.Now()
	result := s.runner.Check(ctx, m)
	s.metrics.ChecksTotal.WithLabelValues(string(m.Type), string(result.Status)).Inc()
	s.metrics.CheckDuration.WithLabelValues(string(m.Type)).Observe(time.Since(start).Seconds())

	transition, err := s.engine.Apply(ctx, m, result, result.CheckedAt)
	if err != nil {
		s.logger.WithField("monitor", m.Name).WithError(err).Error("status transition failed")
		return
	}

	// Notifications go out before the check update is committed, trading
	// duplicate alerts on a failed commit for never losing one.
	if s.notifyCfg.Enabled {
		s.dispatchEvents(ctx, m, transition)
	}

	if err := s.persist(ctx, m, result, transition); err != nil {
		s.logger.WithField("monitor", m.Name).WithError(err).Error("persisting check failed")
		return
	}

	if transition.OpenIncident != nil {
		s.metrics.IncidentsOpen.Inc()
	}
	if transition.ResolveIncident != nil {
		s.metrics.IncidentsOpen.Dec()
	}
	s.cache.Delete(ctx, cache.MonitorStatusKey(m.ID))
}

func (s *Scheduler) dispatchEvents(ctx context.Context, m *monitor.Monitor, transition *status.Transition) {
	sendTimeout := s.notifyCfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	for _, event := range transition.Events {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		outcomes := s.dispatcher.Dispatch(sendCtx, m, event.Type, event.Incident, transition.ConsecutiveFails, time.Now())
		cancel()
		for _, o := range outcomes {
			outcome := "success"
			if !o.Success {
				outcome = "failure"
			}
			s.metrics.NotificationsTotal.WithLabelValues(o.ChannelName, outcome).Inc()
		}
	}
}

// persist compacts the extra payload, interns the error message and writes
// the whole check update in one transaction.
func (s *Scheduler) persist(ctx context.Context, m *monitor.Monitor, result *monitor.CheckResult, transition *status.Transition) error {
	compact, err := s.dedup.Compact(ctx, result.Extra)
	if err != nil {
		s.logger.WithField("monitor", m.Name).WithError(err).Warn("extra payload compaction failed, storing without references")
		compact = nil
	}

	var errorRef *int64
	if result.ErrorMessage != nil && *result.ErrorMessage != "" {
		if id, err := s.dedup.InternError(ctx, *result.ErrorMessage); err == nil {
			errorRef = &id
		} else {
			s.logger.WithField("monitor", m.Name).WithError(err).Warn("error message interning failed")
		}
	}

	return s.store.ApplyCheck(ctx, &storage.CheckUpdate{
		MonitorID:        m.ID,
		Result:           result,
		CompactExtra:     compact,
		ErrorRef:         errorRef,
		NewStatus:        transition.NewStatus,
		ConsecutiveFails: transition.ConsecutiveFails,
		OpenIncident:     transition.OpenIncident,
		ResolveIncident:  transition.ResolveIncident,
	})
}

// recordExecutionError persists a synthetic down result for failures in the
// execution path itself.
func (s *Scheduler) recordExecutionError(ctx context.Context, monitorID, detail string) {
	m, err := s.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return
	}
	result := checker.ExecutionError(detail)
	transition, err := s.engine.Apply(ctx, m, result, result.CheckedAt)
	if err != nil {
		return
	}
	if err := s.persist(ctx, m, result, transition); err != nil {
		s.logger.WithField("monitor", m.Name).WithError(err).Error("persisting execution error failed")
	}
}
