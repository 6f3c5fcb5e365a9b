// Package downtime turns monitoring events into incidents and per-client
// downtime reports.
package downtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruby4mag/service-downtime-backend/internal/metrics"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

const (
	MinDays = 1
	MaxDays = 90
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrInvalidDays   = fmt.Errorf("days must be between %d and %d", MinDays, MaxDays)
)

// Registry resolves a client to its configuration and services.
type Registry interface {
	Client(id string) (models.ClientConfig, bool)
	ServiceMap(id string) (map[string]string, error)
}

// SourceProvider returns the event source for a client.
type SourceProvider interface {
	For(cfg models.ClientConfig) (EventSource, error)
}

// SourceFunc adapts a function to SourceProvider.
type SourceFunc func(cfg models.ClientConfig) (EventSource, error)

func (f SourceFunc) For(cfg models.ClientConfig) (EventSource, error) { return f(cfg) }

type ReportStore interface {
	Put(report *models.DowntimeReport) error
}

type Journal interface {
	Record(clientID, service string, incidents []models.Incident) (int, error)
}

// Tenant is everything needed to build one client's report. It is built
// per call, so no shared state has to be switched to "the current client".
type Tenant struct {
	ID       string
	Services map[string]string
	Source   EventSource
}

type Options struct {
	// Concurrency bounds the services reconciled in parallel.
	Concurrency   int
	StoppedMarker string
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

type Engine struct {
	registry    Registry
	sources     SourceProvider
	store       ReportStore
	journal     Journal
	reconciler  *Reconciler
	metrics     *metrics.Metrics
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

func NewEngine(registry Registry, sources SourceProvider, store ReportStore, journal Journal, opts Options, logger *zap.Logger) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.Named("downtime")
	return &Engine{
		registry:    registry,
		sources:     sources,
		store:       store,
		journal:     journal,
		reconciler:  NewReconciler(opts.StoppedMarker, logger),
		metrics:     opts.Metrics,
		logger:      logger,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
}

// Recompute builds the client's report over the last days, journals its
// incidents and stores it. Only a failure to store the report is returned
// as an error once the report is built; journal failures are logged.
func (e *Engine) Recompute(ctx context.Context, clientID string, days int) (*models.DowntimeReport, error) {
	if days < MinDays || days > MaxDays {
		return nil, ErrInvalidDays
	}
	cfg, ok := e.registry.Client(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	logger := e.logger.With(zap.String("client", cfg.ClientID), zap.Int("days", days))

	services, err := e.registry.ServiceMap(cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading services: %w", err)
	}
	if len(services) == 0 {
		logger.Warn("no services configured")
	}

	var source EventSource
	if len(services) > 0 {
		source, err = e.sources.For(cfg)
		if err != nil {
			return nil, fmt.Errorf("monitoring client for %s: %w", cfg.ClientID, err)
		}
	}

	started := time.Now()
	logger.Info("calculating downtime", zap.Int("services", len(services)))

	report := e.BuildReport(ctx, Tenant{ID: cfg.ClientID, Services: services, Source: source}, days)

	if e.journal != nil {
		for _, svc := range report.Services {
			if len(svc.Incidents) == 0 {
				continue
			}
			if _, err := e.journal.Record(cfg.ClientID, svc.ServiceName, svc.Incidents); err != nil {
				e.metrics.JournalFailed(cfg.ClientID)
				logger.Error("journal update failed", zap.String("service", svc.ServiceName), zap.Error(err))
			}
		}
	}

	if err := e.store.Put(report); err != nil {
		return nil, fmt.Errorf("saving report: %w", err)
	}

	e.metrics.ObserveReport(report, time.Since(started))
	logger.Info("downtime calculated",
		zap.String("total", report.TotalDowntimeFormatted),
		zap.Int("services_with_downtime", report.ServicesWithDowntime),
		zap.Float64("availability", report.Availability),
		zap.Duration("elapsed", time.Since(started)))
	return report, nil
}

type serviceResult struct {
	seconds   int64
	incidents []models.Incident
}

// BuildReport reconciles every service of t without side effects. A service
// whose events cannot be fetched contributes no downtime but is still
// counted.
func (e *Engine) BuildReport(ctx context.Context, t Tenant, days int) *models.DowntimeReport {
	now := e.now()

	names := make([]string, 0, len(t.Services))
	for name := range t.Services {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})

	results := make([]serviceResult, len(names))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			seconds, incidents, err := e.reconciler.Reconcile(ctx, t.Source, name, t.Services[name], days, now)
			if err != nil {
				e.metrics.UpstreamFailed(t.ID)
				e.logger.Error("calculating service downtime",
					zap.String("client", t.ID), zap.String("service", name), zap.Error(err))
				return nil
			}
			results[i] = serviceResult{seconds: seconds, incidents: incidents}
			return nil
		})
	}
	_ = g.Wait()

	report := &models.DowntimeReport{
		ClientID:          t.ID,
		PeriodDays:        days,
		GeneratedAt:       now,
		Services:          make([]models.ServiceDowntimeDetail, 0, len(names)),
		ActiveIncidents:   []models.Incident{},
		ResolvedIncidents: []models.Incident{},
	}

	var totalMinutes int64
	for i, name := range names {
		res := results[i]
		if res.incidents == nil {
			res.incidents = []models.Incident{}
		}
		totalMinutes += CeilMinutes(res.seconds)

		report.Services = append(report.Services, models.ServiceDowntimeDetail{
			ServiceName:            name,
			IPAddress:              t.Services[name],
			TotalDowntimeSeconds:   res.seconds,
			TotalDowntimeFormatted: FormatDurationRoundedUp(res.seconds),
			IncidentCount:          len(res.incidents),
			Incidents:              res.incidents,
		})
		if res.seconds > 0 {
			report.ServicesWithDowntime++
		}
		for _, inc := range res.incidents {
			if inc.IsActive {
				report.ActiveIncidents = append(report.ActiveIncidents, inc)
			} else {
				report.ResolvedIncidents = append(report.ResolvedIncidents, inc)
			}
		}
	}

	report.ServicesCount = len(report.Services)
	report.TotalDowntimeSeconds = totalMinutes * secondsPerMinute
	report.TotalDowntimeFormatted = FormatMinutes(totalMinutes)
	report.Availability = Availability(report.TotalDowntimeSeconds, days, report.ServicesCount)

	newestFirst := func(list []models.Incident) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].StartTime.After(list[j].StartTime)
		})
	}
	newestFirst(report.ActiveIncidents)
	newestFirst(report.ResolvedIncidents)

	return report
}
