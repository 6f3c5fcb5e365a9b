package downtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

// EventSource is the part of the monitoring API the reconciler reads.
type EventSource interface {
	GetHosts(ctx context.Context, ip string) ([]models.Host, error)
	GetEvents(ctx context.Context, q models.EventQuery) ([]models.Event, error)
	GetEventsByIDs(ctx context.Context, ids []string) ([]models.Event, error)
}

// DefaultStoppedMarker is the trigger text of a stopped-service problem.
const DefaultStoppedMarker = "is not running"

// Reconciler pairs problem events with their recovery events to build the
// incidents of one service.
type Reconciler struct {
	marker string
	logger *zap.Logger
}

func NewReconciler(marker string, logger *zap.Logger) *Reconciler {
	if marker == "" {
		marker = DefaultStoppedMarker
	}
	return &Reconciler{marker: marker, logger: logger}
}

// Reconcile returns the total downtime in seconds and the incidents of
// service over the days before now, in chronological order.
//
// An address that matches no host yields no downtime and no error. Any
// error returned comes from the event source.
func (r *Reconciler) Reconcile(ctx context.Context, src EventSource, service, address string, days int, now time.Time) (int64, []models.Incident, error) {
	nowUnix := now.Unix()
	periodStart := nowUnix - int64(days)*secondsPerDay
	logger := r.logger.With(zap.String("service", service), zap.String("address", address))

	if address == "" {
		logger.Warn("service has no address")
		return 0, nil, nil
	}

	hosts, err := src.GetHosts(ctx, address)
	if err != nil {
		return 0, nil, fmt.Errorf("resolving hosts for %s: %w", address, err)
	}
	if len(hosts) == 0 {
		logger.Warn("no host found for address")
		return 0, nil, nil
	}
	hostIDs := make([]string, 0, len(hosts))
	for _, h := range hosts {
		hostIDs = append(hostIDs, h.HostID)
	}

	events, err := src.GetEvents(ctx, models.EventQuery{
		HostIDs:  hostIDs,
		Search:   []string{service, r.marker},
		TimeFrom: periodStart,
		TimeTill: nowUnix,
		Value:    models.EventValueProblem,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("fetching problem events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil, nil
	}

	recovered, err := r.recoveryTimes(ctx, src, events)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	incidents := make([]models.Incident, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, evt := range events {
		if evt.EventID != "" {
			if seen[evt.EventID] {
				continue
			}
			seen[evt.EventID] = true
		}
		start, err := strconv.ParseInt(evt.Clock, 10, 64)
		if err != nil {
			logger.Warn("skipping event with invalid clock", zap.String("event", evt.EventID), zap.String("clock", evt.Clock))
			continue
		}
		// Incidents that began before the window are dropped, not clipped.
		if start < periodStart {
			continue
		}

		inc := models.Incident{
			ServiceName: service,
			TriggerName: evt.Name,
			StartTime:   time.Unix(start, 0),
		}

		end := nowUnix
		if recoveredAt, ok := recovered[evt.RecoveryEventID]; ok && evt.HasRecovery() {
			end = recoveredAt
			endTime := time.Unix(recoveredAt, 0)
			inc.EndTime = &endTime
		} else {
			inc.IsActive = true
		}

		inc.DurationSeconds = end - start
		if inc.DurationSeconds < 0 {
			inc.DurationSeconds = 0
		}
		inc.DurationFormatted = FormatDuration(inc.DurationSeconds)

		total += inc.DurationSeconds
		incidents = append(incidents, inc)
	}

	sort.SliceStable(incidents, func(i, j int) bool {
		return incidents[i].StartTime.Before(incidents[j].StartTime)
	})
	return total, incidents, nil
}

// recoveryTimes maps recovery event ids to their clock. References that do
// not come back, or come back without a valid clock, are left out so the
// incident stays open.
func (r *Reconciler) recoveryTimes(ctx context.Context, src EventSource, events []models.Event) (map[string]int64, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range events {
		if e.HasRecovery() && !seen[e.RecoveryEventID] {
			seen[e.RecoveryEventID] = true
			ids = append(ids, e.RecoveryEventID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	recoveries, err := src.GetEventsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching recovery events: %w", err)
	}

	times := make(map[string]int64, len(recoveries))
	for _, rec := range recoveries {
		clock, err := strconv.ParseInt(rec.Clock, 10, 64)
		if err != nil {
			r.logger.Warn("recovery event with invalid clock", zap.String("event", rec.EventID), zap.String("clock", rec.Clock))
			continue
		}
		times[rec.EventID] = clock
	}
	return times, nil
}
