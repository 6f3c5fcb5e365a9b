package downtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

// fakeSource serves hosts by address and problem events by service name.
type fakeSource struct {
	hosts      map[string][]models.Host
	events     map[string][]models.Event
	recoveries map[string]models.Event

	hostErr     error
	eventErr    map[string]error
	recoveryErr error

	mu      sync.Mutex
	queries []models.EventQuery
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		hosts:      map[string][]models.Host{},
		events:     map[string][]models.Event{},
		recoveries: map[string]models.Event{},
		eventErr:   map[string]error{},
	}
}

func (f *fakeSource) GetHosts(_ context.Context, ip string) ([]models.Host, error) {
	if f.hostErr != nil {
		return nil, f.hostErr
	}
	return f.hosts[ip], nil
}

func (f *fakeSource) GetEvents(_ context.Context, q models.EventQuery) ([]models.Event, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	service := q.Search[0]
	if err := f.eventErr[service]; err != nil {
		return nil, err
	}
	var out []models.Event
	for _, e := range f.events[service] {
		if strings.Contains(e.Name, q.Search[1]) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) GetEventsByIDs(_ context.Context, ids []string) ([]models.Event, error) {
	if f.recoveryErr != nil {
		return nil, f.recoveryErr
	}
	var out []models.Event
	for _, id := range ids {
		if e, ok := f.recoveries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

var errUpstream = errors.New("connection refused")

type fakeRegistry struct {
	clients  map[string]models.ClientConfig
	services map[string]map[string]string
}

func (r *fakeRegistry) Client(id string) (models.ClientConfig, bool) {
	c, ok := r.clients[id]
	return c, ok
}

func (r *fakeRegistry) ServiceMap(id string) (map[string]string, error) {
	return r.services[id], nil
}

type fakeStore struct {
	mu      sync.Mutex
	reports []*models.DowntimeReport
	err     error
}

func (s *fakeStore) Put(r *models.DowntimeReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r)
	return nil
}

type fakeJournal struct {
	mu       sync.Mutex
	recorded map[string][]models.Incident
	err      error
}

func (j *fakeJournal) Record(clientID, service string, incidents []models.Incident) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return 0, j.err
	}
	if j.recorded == nil {
		j.recorded = map[string][]models.Incident{}
	}
	j.recorded[clientID+"/"+service] = incidents
	return len(incidents), nil
}
