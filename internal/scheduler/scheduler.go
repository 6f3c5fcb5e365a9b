// Package scheduler refreshes every client's downtime report on a fixed
// interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/downtime"
	"github.com/ruby4mag/service-downtime-backend/internal/metrics"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

type Refresher interface {
	Recompute(ctx context.Context, clientID string, days int) (*models.DowntimeReport, error)
}

type Tenants interface {
	ListClientIDs() []string
	ServiceMap(id string) (map[string]string, error)
}

// Pruner trims a client's journal before the refresh.
type Pruner interface {
	PruneServices(clientID string, current []string) (int, error)
	PruneResolvedBefore(clientID string, cutoff time.Time) (int, error)
}

type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Days         int
	// Retention of resolved journal entries. Zero keeps them forever.
	Retention time.Duration
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Scheduler struct {
	tenants   Tenants
	refresher Refresher
	pruner    Pruner
	opts      Options
	logger    *zap.Logger

	state    atomic.Int32
	inflight sync.WaitGroup
}

// New returns a scheduler. pruner may be nil.
func New(tenants Tenants, refresher Refresher, pruner Pruner, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Days == 0 {
		opts.Days = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		tenants:   tenants,
		refresher: refresher,
		pruner:    pruner,
		opts:      opts,
		logger:    logger.Named("scheduler"),
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run waits for the initial delay and then runs one cycle per interval
// until ctx is cancelled. The next interval starts after the previous
// cycle has finished, so cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("initial_delay", s.opts.InitialDelay),
		zap.Duration("interval", s.opts.Interval),
		zap.Int("days", s.opts.Days))

	timer := time.NewTimer(s.opts.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		if !s.RunCycle(ctx) {
			s.logger.Info("scheduler stopped during a cycle")
			return
		}
		timer.Reset(s.opts.Interval)
	}
}

// RunCycle refreshes every known client concurrently and waits for all of
// them. It returns false if ctx was cancelled before the cycle finished;
// refreshes already started are left to complete on their own and State
// reports Running until they have.
func (s *Scheduler) RunCycle(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.state.Store(int32(Running))

	started := time.Now()
	ids := s.tenants.ListClientIDs()
	s.logger.Info("refresh cycle started", zap.Int("clients", len(ids)))

	// Refreshes are not aborted mid-call when the loop is stopped.
	taskCtx := context.WithoutCancel(ctx)

	var cycle sync.WaitGroup
	for _, id := range ids {
		cycle.Add(1)
		s.inflight.Add(1)
		go func(id string) {
			defer s.inflight.Done()
			defer cycle.Done()
			s.refresh(taskCtx, id)
		}(id)
	}

	// The state stays Running until the last refresh of this cycle has
	// returned, even when ctx is cancelled first.
	done := make(chan struct{})
	go func() {
		cycle.Wait()
		s.state.Store(int32(Idle))
		close(done)
	}()

	select {
	case <-ctx.Done():
		return false
	case <-done:
	}

	elapsed := time.Since(started)
	s.opts.Metrics.ObserveCycle(elapsed)
	s.logger.Info("refresh cycle finished", zap.Int("clients", len(ids)), zap.Duration("elapsed", elapsed))
	return true
}

// Wait blocks until refreshes left running by a cancelled cycle are done.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) refresh(ctx context.Context, clientID string) {
	log := s.logger.With(zap.String("client", clientID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("refresh panicked", zap.Any("panic", r), zap.Stack("stack"))
			s.opts.Metrics.RefreshFailed(clientID)
		}
	}()

	s.prune(clientID, log)

	report, err := s.refresher.Recompute(ctx, clientID, s.opts.Days)
	if err != nil {
		log.Error("refresh failed", zap.Error(err))
		s.opts.Metrics.RefreshFailed(clientID)
		return
	}
	log.Info("refresh done",
		zap.String("total", report.TotalDowntimeFormatted),
		zap.Int("services", report.ServicesCount),
		zap.Int("active", len(report.ActiveIncidents)))
}

// prune drops journal entries of removed services and of incidents
// resolved before the retention window. Failures are only logged.
func (s *Scheduler) prune(clientID string, log *zap.Logger) {
	if s.pruner == nil {
		return
	}
	services, err := s.tenants.ServiceMap(clientID)
	if err != nil {
		log.Warn("journal prune skipped", zap.Error(fmt.Errorf("loading services: %w", err)))
		return
	}
	// An empty list is more likely a missing or half-written services
	// file than a client with no services, so entries are kept.
	if len(services) > 0 {
		names := make([]string, 0, len(services))
		for name := range services {
			names = append(names, name)
		}
		if _, err := s.pruner.PruneServices(clientID, names); err != nil {
			log.Error("journal prune failed", zap.Error(err))
			s.opts.Metrics.JournalFailed(clientID)
		}
	}
	if s.opts.Retention > 0 {
		cutoff := s.opts.Now().Add(-s.opts.Retention)
		if _, err := s.pruner.PruneResolvedBefore(clientID, cutoff); err != nil {
			log.Error("journal prune failed", zap.Error(err))
			s.opts.Metrics.JournalFailed(clientID)
		}
	}
}

var _ Refresher = (*downtime.Engine)(nil)
