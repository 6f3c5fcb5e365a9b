package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruby4mag/service-downtime-backend/internal/auth"
	"github.com/ruby4mag/service-downtime-backend/internal/db"
	"github.com/ruby4mag/service-downtime-backend/internal/downtime"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
	"github.com/ruby4mag/service-downtime-backend/internal/scheduler"
	"github.com/ruby4mag/service-downtime-backend/internal/snapshot"
)

type fakeClients struct {
	configs  map[string]models.ClientConfig
	services map[string]map[string]string
}

func (f *fakeClients) ListClientIDs() []string {
	return []string{"acme", "globex"}
}

func (f *fakeClients) Client(id string) (models.ClientConfig, bool) {
	cfg, ok := f.configs[id]
	return cfg, ok
}

func (f *fakeClients) ServiceMap(id string) (map[string]string, error) {
	return f.services[id], nil
}

type fakeReports map[string]*models.DowntimeReport

func (f fakeReports) Get(clientID string) (*models.DowntimeReport, bool, error) {
	r, ok := f[clientID]
	return r, ok, nil
}

type fakeEngine struct {
	report *models.DowntimeReport
	err    error
	days   int
}

func (f *fakeEngine) Recompute(ctx context.Context, clientID string, days int) (*models.DowntimeReport, error) {
	f.days = days
	return f.report, f.err
}

type fakeSource struct {
	hosts []models.Host
	err   error
}

func (f *fakeSource) GetHosts(ctx context.Context, ip string) ([]models.Host, error) {
	return f.hosts, f.err
}

func (f *fakeSource) GetEvents(ctx context.Context, q models.EventQuery) ([]models.Event, error) {
	return nil, nil
}

func (f *fakeSource) GetEventsByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	return nil, nil
}

type fakeAuthenticator map[string]auth.Identity

func (f fakeAuthenticator) Authenticate(ctx context.Context, username, password string) (*auth.Identity, error) {
	id, ok := f[username+":"+password]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return &id, nil
}

type fakeSessions map[string]db.Session

func (f fakeSessions) Save(ctx context.Context, token string, session db.Session, ttl time.Duration) error {
	f[token] = session
	return nil
}

func (f fakeSessions) Lookup(ctx context.Context, token string) (db.Session, error) {
	s, ok := f[token]
	if !ok {
		return db.Session{}, db.ErrSessionNotFound
	}
	return s, nil
}

type fixedState scheduler.State

func (s fixedState) State() scheduler.State { return scheduler.State(s) }

var generatedAt = time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

func sampleReport() *models.DowntimeReport {
	dbEnd := generatedAt.Add(-50 * time.Minute)
	active := models.Incident{
		ServiceName: "web", TriggerName: "web is not running",
		StartTime: generatedAt.Add(-10 * time.Minute), DurationSeconds: 600, IsActive: true,
	}
	resolved := models.Incident{
		ServiceName: "db01", TriggerName: "db01 slow",
		StartTime: generatedAt.Add(-time.Hour), EndTime: &dbEnd, DurationSeconds: 125,
	}
	return &models.DowntimeReport{
		ClientID:               "acme",
		PeriodDays:             30,
		GeneratedAt:            generatedAt,
		TotalDowntimeSeconds:   780,
		TotalDowntimeFormatted: "13m",
		ServicesCount:          2,
		ServicesWithDowntime:   2,
		Availability:           99.99,
		Services: []models.ServiceDowntimeDetail{
			{ServiceName: "db01", IPAddress: "10.0.0.1", TotalDowntimeSeconds: 180, IncidentCount: 1, Incidents: []models.Incident{resolved}},
			{ServiceName: "web", IPAddress: "10.0.0.2", TotalDowntimeSeconds: 600, IncidentCount: 1, Incidents: []models.Incident{active}},
		},
		ActiveIncidents:   []models.Incident{active},
		ResolvedIncidents: []models.Incident{resolved},
	}
}

type fixture struct {
	router   *gin.Engine
	tokens   *auth.Manager
	reports  fakeReports
	engine   *fakeEngine
	source   *fakeSource
	sessions fakeSessions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		tokens:   auth.NewManager("secret", time.Hour, time.Hour),
		reports:  fakeReports{"acme": sampleReport()},
		engine:   &fakeEngine{report: sampleReport()},
		source:   &fakeSource{},
		sessions: fakeSessions{},
	}
	clients := &fakeClients{
		configs: map[string]models.ClientConfig{
			"acme":   {ClientID: "acme", ClientName: "Acme"},
			"globex": {ClientID: "globex", ClientName: "Globex"},
		},
		services: map[string]map[string]string{
			"acme":   {"db01": "10.0.0.1", "web": "10.0.0.2", "api": "10.0.0.2", "queue": "10.0.0.3"},
			"globex": {"mail": "10.1.0.1"},
		},
	}
	h := New(Deps{
		Clients: clients,
		Reports: f.reports,
		Engine:  f.engine,
		Sources: downtime.SourceFunc(func(cfg models.ClientConfig) (downtime.EventSource, error) {
			return f.source, nil
		}),
		Tokens: f.tokens,
		Authenticator: fakeAuthenticator{
			"alice:pw": {Username: "alice", ClientID: "acme", ClientName: "Acme"},
		},
		Sessions:  f.sessions,
		Scheduler: fixedState(scheduler.Running),
	})
	f.router = gin.New()
	h.Register(f.router)
	return f
}

func (f *fixture) token(t *testing.T, clientID string) string {
	t.Helper()
	tok, _, err := f.tokens.GenerateJWT("alice", clientID)
	require.NoError(t, err)
	return tok
}

func (f *fixture) get(t *testing.T, path, clientID string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, clientID))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "running", body["scheduler"])
}

func TestReportCaching(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/acme/downtime/report", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	assert.Equal(t, snapshot.Token(sampleReport()), etag)
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.Equal(t, "Thu, 09 Oct 2025 12:00:00 GMT", w.Header().Get("Last-Modified"))

	report := decode[models.DowntimeReport](t, w)
	assert.Equal(t, "13m", report.TotalDowntimeFormatted)

	w = f.get(t, "/api/acme/downtime/report", "acme", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	// a new report changes the token
	newer := sampleReport()
	newer.GeneratedAt = generatedAt.Add(time.Minute)
	f.reports["acme"] = newer
	w = f.get(t, "/api/acme/downtime/report", "acme", "If-None-Match", etag)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))
}

func TestAbsentSnapshotIsUnavailable(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/api/globex/downtime/report",
		"/api/globex/downtime/summary",
		"/api/globex/dashboard",
		"/api/globex/problems",
	} {
		w := f.get(t, path, "globex")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Contains(t, w.Body.String(), "not yet available", path)
	}
}

func TestAccessControl(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/acme/downtime/report", "globex")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.get(t, "/api/acme/downtime/report", auth.GlobalClient)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.get(t, "/api/initech/downtime/report", auth.GlobalClient)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/acme/downtime/report", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListClients(t *testing.T) {
	f := newFixture(t)

	body := decode[map[string][]string](t, f.get(t, "/api/clients", "acme"))
	assert.Equal(t, []string{"acme"}, body["clients"])

	body = decode[map[string][]string](t, f.get(t, "/api/clients", auth.GlobalClient))
	assert.Equal(t, []string{"acme", "globex"}, body["clients"])
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/acme/downtime/summary", "acme")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "13m", body["totalDowntime"])
	assert.Equal(t, float64(780), body["totalDowntimeSeconds"])
	assert.Equal(t, 99.99, body["availability"])
	assert.Equal(t, float64(1), body["activeIncidents"])
}

func TestServices(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/acme/services", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	services := decode[[]ServiceStatus](t, w)
	require.Len(t, services, 4)
	byName := map[string]ServiceStatus{}
	for _, s := range services {
		byName[s.Name] = s
	}
	assert.Equal(t, "api", services[0].Name)
	assert.Equal(t, "Stopped", byName["web"].Status)
	assert.False(t, byName["web"].Active)
	assert.Equal(t, "Running", byName["db01"].Status)
	assert.Equal(t, "Running", byName["queue"].Status)
	assert.Equal(t, "2025-10-09 12:00:00", byName["queue"].LastCheck)
}

func TestServicesWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/globex/services", "globex")
	require.Equal(t, http.StatusOK, w.Code)

	services := decode[[]ServiceStatus](t, w)
	require.Len(t, services, 1)
	assert.Equal(t, "Unknown", services[0].Status)
	assert.Equal(t, "waiting for data", services[0].LastCheck)
}

func TestProblems(t *testing.T) {
	f := newFixture(t)

	active := decode[[]Problem](t, f.get(t, "/api/acme/problems", "acme"))
	require.Len(t, active, 1)
	assert.Equal(t, "web is not running", active[0].Name)
	assert.Equal(t, "4", active[0].SeverityLevel)
	assert.Equal(t, "High", active[0].Severity)
	assert.Equal(t, "Active", active[0].Status)
	assert.Equal(t, 10.0, active[0].DurationMinutes)

	resolved := decode[[]Problem](t, f.get(t, "/api/acme/problems?resolved=1", "acme"))
	require.Len(t, resolved, 1)
	assert.Equal(t, "3", resolved[0].SeverityLevel)
	assert.Equal(t, "Resolved", resolved[0].Status)
	assert.Equal(t, 2.08, resolved[0].DurationMinutes)
	assert.Equal(t, "2025-10-09 11:00:00", resolved[0].Started)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	d := decode[Dashboard](t, f.get(t, "/api/acme/dashboard", "acme"))

	assert.Equal(t, "ACME - 3 host(s)", d.Host.Name)
	assert.Equal(t, "10.0.0.1, 10.0.0.2, 10.0.0.3", d.Host.IP)
	assert.Equal(t, 99.99, d.Availability.Percent)
	assert.Equal(t, 13.0, d.Availability.DowntimeMinutes)
	assert.Equal(t, 86400.0, d.Availability.TotalMinutes)
	assert.Equal(t, 86387.0, d.Availability.UptimeMinutes)
	assert.Equal(t, 1, d.Problems.Active)
	assert.Equal(t, 1, d.Problems.Resolved)
	assert.Equal(t, 2, d.Problems.Total)
}

func TestHostInfo(t *testing.T) {
	f := newFixture(t)
	f.source.hosts = []models.Host{{
		HostID:     "10084",
		Name:       "db-server",
		Interfaces: []models.HostInterface{{IP: "10.0.0.1", Available: "1"}},
	}}

	w := f.get(t, "/api/acme/host-info", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[HostInfo](t, w)
	assert.Equal(t, "10084", info.HostID)
	assert.Equal(t, "Online", info.Status)

	f.source.hosts = nil
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/acme/host-info", "acme").Code)

	f.source.err = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, f.get(t, "/api/acme/host-info", "acme").Code)
}

func TestCalculate(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/acme/downtime/calculate?days=7", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, f.engine.days)

	w = f.get(t, "/api/acme/downtime/calculate", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, f.engine.days)

	for _, q := range []string{"0", "91", "abc"} {
		w = f.get(t, "/api/acme/downtime/calculate?days="+q, "acme")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	f.engine.err = errors.New("saving report: disk full")
	w = f.get(t, "/api/acme/downtime/calculate", "acme")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLoginAndRefresh(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/login", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.post(t, "/login", map[string]string{"username": "alice", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "acme", body["clientId"])
	assert.Equal(t, "Acme", body["clientName"])

	claims, err := f.tokens.ParseJWT(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.ClientID)

	refresh := body["refresh_token"].(string)
	assert.Equal(t, "alice", f.sessions[refresh].Username)

	w = f.post(t, "/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode[map[string]any](t, w)
	claims, err = f.tokens.ParseJWT(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.ClientID)

	w = f.post(t, "/refresh", map[string]string{"refresh_token": "unknown"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.post(t, "/refresh", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
