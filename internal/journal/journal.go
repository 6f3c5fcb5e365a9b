// Package journal keeps an audit log of incident open and resolve events
// per client. The log is not used to build reports; it only remembers which
// incidents have already been logged so repeated refreshes do not log them
// again.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/fsutil"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
	"github.com/ruby4mag/service-downtime-backend/internal/snapshot"
)

const LogFile = "downtime.log"

type Kind string

const (
	KindOpened   Kind = "opened"
	KindResolved Kind = "resolved"
)

type Entry struct {
	Kind            Kind       `json:"kind"`
	Service         string     `json:"service"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationSeconds int64      `json:"durationSeconds,omitempty"`
	Trigger         string     `json:"trigger,omitempty"`
	RecordedAt      time.Time  `json:"recordedAt"`
}

type entryKey struct {
	service string
	start   int64
}

func keyOf(service string, start time.Time) entryKey {
	return entryKey{service: strings.ToLower(service), start: start.Unix()}
}

func (e Entry) key() entryKey {
	return keyOf(e.Service, e.Start)
}

type Journal struct {
	root   string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New keeps journals under root/<clientId>/downtime.log.
func New(root string, logger *zap.Logger) *Journal {
	return &Journal{
		root:   root,
		logger: logger.Named("journal"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (j *Journal) lock(clientID string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[clientID]
	if !ok {
		l = &sync.Mutex{}
		j.locks[clientID] = l
	}
	return l
}

func (j *Journal) path(clientID string) string {
	return filepath.Join(j.root, clientID, LogFile)
}

// Record logs an opened entry for every incident not logged before and a
// resolved entry for every closed incident whose resolution is not logged
// yet. It returns the number of entries written.
func (j *Journal) Record(clientID, service string, incidents []models.Incident) (int, error) {
	if !snapshot.ValidClientID(clientID) {
		return 0, fmt.Errorf("%w: %q", snapshot.ErrInvalidClientID, clientID)
	}
	if len(incidents) == 0 {
		return 0, nil
	}

	l := j.lock(clientID)
	l.Lock()
	defer l.Unlock()

	entries, _, err := j.read(clientID)
	if err != nil {
		return 0, err
	}
	opened := make(map[entryKey]bool)
	resolved := make(map[entryKey]bool)
	for _, e := range entries {
		switch e.Kind {
		case KindOpened:
			opened[e.key()] = true
		case KindResolved:
			resolved[e.key()] = true
		}
	}

	now := j.now().UTC()
	added := 0
	for _, inc := range incidents {
		k := keyOf(service, inc.StartTime)
		if !opened[k] {
			opened[k] = true
			entries = append(entries, Entry{
				Kind:       KindOpened,
				Service:    service,
				Start:      inc.StartTime.UTC(),
				Trigger:    inc.TriggerName,
				RecordedAt: now,
			})
			added++
		}
		if inc.EndTime != nil && !resolved[k] {
			resolved[k] = true
			end := inc.EndTime.UTC()
			entries = append(entries, Entry{
				Kind:            KindResolved,
				Service:         service,
				Start:           inc.StartTime.UTC(),
				End:             &end,
				DurationSeconds: inc.DurationSeconds,
				Trigger:         inc.TriggerName,
				RecordedAt:      now,
			})
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}

	if err := j.write(clientID, entries); err != nil {
		return 0, err
	}
	j.logger.Debug("journal updated",
		zap.String("client", clientID), zap.String("service", service), zap.Int("added", added))
	return added, nil
}

// IsOpened reports whether an opened entry exists for service and start.
func (j *Journal) IsOpened(clientID, service string, start time.Time) (bool, error) {
	entries, err := j.Entries(clientID)
	if err != nil {
		return false, err
	}
	k := keyOf(service, start)
	for _, e := range entries {
		if e.Kind == KindOpened && e.key() == k {
			return true, nil
		}
	}
	return false, nil
}

// Entries returns the client's journal in the order it was written.
func (j *Journal) Entries(clientID string) ([]Entry, error) {
	if !snapshot.ValidClientID(clientID) {
		return nil, fmt.Errorf("%w: %q", snapshot.ErrInvalidClientID, clientID)
	}
	l := j.lock(clientID)
	l.Lock()
	defer l.Unlock()

	entries, _, err := j.read(clientID)
	return entries, err
}

// PruneServices drops the entries of every service not in current.
// Service names compare case-insensitively.
func (j *Journal) PruneServices(clientID string, current []string) (int, error) {
	keep := make(map[string]bool, len(current))
	for _, s := range current {
		keep[strings.ToLower(s)] = true
	}
	return j.prune(clientID, func(entries []Entry) []Entry {
		out := entries[:0]
		for _, e := range entries {
			if keep[strings.ToLower(e.Service)] {
				out = append(out, e)
			}
		}
		return out
	})
}

// PruneResolvedBefore drops incidents resolved before cutoff. Both the
// resolved entry and the opened entry of the same incident go.
func (j *Journal) PruneResolvedBefore(clientID string, cutoff time.Time) (int, error) {
	return j.prune(clientID, func(entries []Entry) []Entry {
		expired := make(map[entryKey]bool)
		for _, e := range entries {
			if e.Kind == KindResolved && e.End != nil && e.End.Before(cutoff) {
				expired[e.key()] = true
			}
		}
		if len(expired) == 0 {
			return entries
		}
		out := entries[:0]
		for _, e := range entries {
			if !expired[e.key()] {
				out = append(out, e)
			}
		}
		return out
	})
}

// prune rewrites the journal with the entries filter keeps. The file is
// only rewritten when something was dropped.
func (j *Journal) prune(clientID string, filter func([]Entry) []Entry) (int, error) {
	if !snapshot.ValidClientID(clientID) {
		return 0, fmt.Errorf("%w: %q", snapshot.ErrInvalidClientID, clientID)
	}
	l := j.lock(clientID)
	l.Lock()
	defer l.Unlock()

	entries, discarded, err := j.read(clientID)
	if err != nil {
		return 0, err
	}
	before := len(entries)
	kept := filter(entries)
	removed := before - len(kept)
	if removed == 0 && discarded == 0 {
		return 0, nil
	}
	if err := j.write(clientID, kept); err != nil {
		return 0, err
	}
	if removed > 0 {
		j.logger.Info("journal pruned", zap.String("client", clientID), zap.Int("removed", removed))
	}
	return removed, nil
}

// read parses the log. Lines that are not journal entries are counted in
// discarded and dropped on the next write.
func (j *Journal) read(clientID string) (entries []Entry, discarded int, err error) {
	f, err := os.Open(j.path(clientID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || (e.Kind != KindOpened && e.Kind != KindResolved) {
			discarded++
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading journal: %w", err)
	}
	if discarded > 0 {
		j.logger.Warn("discarding unrecognised journal lines",
			zap.String("client", clientID), zap.Int("lines", discarded))
	}
	return entries, discarded, nil
}

func (j *Journal) write(clientID string, entries []Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding journal entry: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(j.root, clientID), 0o755); err != nil {
		return fmt.Errorf("creating client dir: %w", err)
	}
	return fsutil.WriteFileAtomic(j.path(clientID), buf.Bytes(), 0o644)
}
