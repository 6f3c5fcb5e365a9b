// Package snapshot persists the latest downtime report of each client.
//
// A report is written to a staging file next to the canonical one and then
// renamed over it, so readers see either the previous or the new report and
// never a partial one.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/fsutil"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

const (
	ReportFile     = "downtime_report.json"
	stagingPattern = ReportFile + ".*.tmp"
)

var (
	ErrInvalidClientID = errors.New("invalid client id")
	validClientID      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ValidClientID reports whether id is safe to use as a directory name.
func ValidClientID(id string) bool {
	return validClientID.MatchString(id)
}

type Store struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewStore keeps reports under root/<clientId>/.
func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{
		root:   root,
		logger: logger.Named("snapshot"),
		locks:  make(map[string]*sync.RWMutex),
	}
}

// lock returns the lock of one client. Different clients never contend.
func (s *Store) lock(clientID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[clientID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[clientID] = l
	}
	return l
}

func (s *Store) dir(clientID string) string {
	return filepath.Join(s.root, clientID)
}

func (s *Store) path(clientID string) string {
	return filepath.Join(s.dir(clientID), ReportFile)
}

// Put replaces the client's report. If it fails, the previous report stays
// in place.
func (s *Store) Put(report *models.DowntimeReport) error {
	if report == nil {
		return errors.New("nil report")
	}
	id := report.ClientID
	if !ValidClientID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidClientID, id)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(s.dir(id), 0o755); err != nil {
		return fmt.Errorf("creating client dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path(id), data, 0o644); err != nil {
		return err
	}

	s.logger.Debug("report saved", zap.String("client", id), zap.Int("bytes", len(data)))
	return nil
}

// Get returns the client's latest report. ok is false when no report has
// been stored yet; that is not an error.
func (s *Store) Get(clientID string) (report *models.DowntimeReport, ok bool, err error) {
	if !ValidClientID(clientID) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidClientID, clientID)
	}

	l := s.lock(clientID)
	l.RLock()
	data, err := os.ReadFile(s.path(clientID))
	l.RUnlock()

	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading report: %w", err)
	}

	report = &models.DowntimeReport{}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, false, fmt.Errorf("decoding report of %s: %w", clientID, err)
	}
	return report, true, nil
}

// CleanupStaging removes staging files left behind by interrupted writes.
func (s *Store) CleanupStaging() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", stagingPattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			s.logger.Warn("could not remove staging file", zap.String("path", m), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed orphaned staging files", zap.Int("count", removed))
	}
	return removed, nil
}

// Token is the change token of report: it changes exactly when a new
// report is generated. It is quoted so it can be used as an HTTP ETag.
func Token(report *models.DowntimeReport) string {
	return strconv.Quote(strconv.FormatInt(report.GeneratedAt.UnixNano(), 10))
}

// TokenMatches reports whether an If-None-Match header value names token.
func TokenMatches(header, token string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == token {
			return true
		}
	}
	return false
}
