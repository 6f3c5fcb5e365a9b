package journal

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

var testNow = time.Unix(1_760_000_000, 0).UTC()

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	root := t.TempDir()
	j := New(root, zap.NewNop())
	j.now = func() time.Time { return testNow }
	return j, root
}

func openIncident(service string, start time.Time) models.Incident {
	return models.Incident{ServiceName: service, TriggerName: service + " is not running", StartTime: start, IsActive: true}
}

func closedIncident(service string, start time.Time, d time.Duration) models.Incident {
	end := start.Add(d)
	return models.Incident{
		ServiceName:     service,
		TriggerName:     service + " is not running",
		StartTime:       start,
		EndTime:         &end,
		DurationSeconds: int64(d / time.Second),
	}
}

func lines(t *testing.T, root, clientID string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, clientID, LogFile))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRecordOpenedOnce(t *testing.T) {
	j, root := newTestJournal(t)
	start := testNow.Add(-time.Hour)

	n, err := j.Record("acme", "db01", []models.Incident{openIncident("db01", start)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = j.Record("acme", "db01", []models.Incident{openIncident("db01", start)})
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Len(t, lines(t, root, "acme"), 1)

	ok, err := j.IsOpened("acme", "DB01", start)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = j.IsOpened("acme", "db01", start.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordResolution(t *testing.T) {
	j, _ := newTestJournal(t)
	start := testNow.Add(-time.Hour)

	_, err := j.Record("acme", "db01", []models.Incident{openIncident("db01", start)})
	require.NoError(t, err)

	n, err := j.Record("acme", "db01", []models.Incident{closedIncident("db01", start, 125*time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = j.Record("acme", "db01", []models.Incident{closedIncident("db01", start, 125*time.Second)})
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := j.Entries("acme")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindOpened, entries[0].Kind)
	assert.Equal(t, KindResolved, entries[1].Kind)
	require.NotNil(t, entries[1].End)
	assert.True(t, entries[1].End.Equal(start.Add(125*time.Second)))
	assert.Equal(t, int64(125), entries[1].DurationSeconds)
	assert.True(t, entries[1].RecordedAt.Equal(testNow))
}

func TestRecordClosedIncidentFirstSeen(t *testing.T) {
	j, _ := newTestJournal(t)
	n, err := j.Record("acme", "web", []models.Incident{closedIncident("web", testNow.Add(-time.Hour), time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordConcurrentDedup(t *testing.T) {
	j, root := newTestJournal(t)
	start := testNow.Add(-time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.Record("acme", "db01", []models.Incident{openIncident("db01", start)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, lines(t, root, "acme"), 1)
}

func TestRecordNothing(t *testing.T) {
	j, root := newTestJournal(t)
	n, err := j.Record("acme", "db01", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, filepath.Join(root, "acme", LogFile))
}

func TestInvalidClient(t *testing.T) {
	j, _ := newTestJournal(t)
	_, err := j.Record("../x", "db01", []models.Incident{openIncident("db01", testNow)})
	assert.Error(t, err)
	_, err = j.PruneServices("", nil)
	assert.Error(t, err)
}

func TestPruneServices(t *testing.T) {
	j, _ := newTestJournal(t)
	start := testNow.Add(-time.Hour)
	for _, svc := range []string{"db01", "web", "cache"} {
		_, err := j.Record("acme", svc, []models.Incident{closedIncident(svc, start, time.Minute)})
		require.NoError(t, err)
	}

	removed, err := j.PruneServices("acme", []string{"DB01", "web"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := j.Entries("acme")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	for _, e := range entries {
		assert.NotEqual(t, "cache", e.Service)
	}

	removed, err = j.PruneServices("acme", []string{"db01", "web"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPruneResolvedBefore(t *testing.T) {
	j, _ := newTestJournal(t)
	old := testNow.Add(-100 * 24 * time.Hour)
	recent := testNow.Add(-time.Hour)

	_, err := j.Record("acme", "db01", []models.Incident{
		closedIncident("db01", old, time.Minute),
		closedIncident("db01", recent, time.Minute),
		openIncident("db01", old.Add(time.Hour)),
	})
	require.NoError(t, err)

	removed, err := j.PruneResolvedBefore("acme", testNow.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := j.Entries("acme")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.False(t, e.Start.Equal(old), "expired incident left behind")
	}
}

func TestLegacyLinesDiscardedOnRewrite(t *testing.T) {
	j, root := newTestJournal(t)
	dir := filepath.Join(root, "acme")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	legacy := "2024-01-01 10:00:00 OPENED db01\n" +
		`{"kind":"opened","service":"db01","start":"2025-10-09T08:00:00Z","recordedAt":"2025-10-09T08:00:00Z"}` + "\n" +
		`{"kind":"bogus"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, LogFile), []byte(legacy), 0o644))

	entries, err := j.Entries("acme")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	removed, err := j.PruneServices("acme", []string{"db01"})
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, lines(t, root, "acme"), 1)
}
