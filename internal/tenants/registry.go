// Package tenants reads the per-client configuration tree:
//
//	<root>/<clientId>/config.json   client settings and users
//	<root>/<clientId>/services.txt  one "service;address" per line
//
// Client ids are matched case-insensitively.
package tenants

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/auth"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
	"github.com/ruby4mag/service-downtime-backend/internal/snapshot"
)

const (
	ConfigFile   = "config.json"
	ServicesFile = "services.txt"
)

var ErrUnknownClient = errors.New("unknown client")

type Registry struct {
	root   string
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]models.ClientConfig // keyed by lower-case id
	ignored map[string]bool                // directories already warned about
}

// New loads every client under root, creating root when missing.
func New(root string, logger *zap.Logger) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating clients dir: %w", err)
	}
	r := &Registry{
		root:    root,
		logger:  logger.Named("tenants"),
		clients: make(map[string]models.ClientConfig),
		ignored: make(map[string]bool),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Root() string { return r.root }

// Reload rescans the root directory. A client whose config.json cannot be
// parsed is skipped and logged; the others still load. Directories whose
// name is not a usable client id are skipped too.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("reading clients dir: %w", err)
	}

	clients := make(map[string]models.ClientConfig)
	var ignored []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if reason := unusableID(id); reason != "" {
			ignored = append(ignored, id)
			r.warnIgnored(id, reason)
			continue
		}
		cfg, err := readConfig(filepath.Join(r.root, id, ConfigFile))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Error("skipping client with invalid config", zap.String("client", id), zap.Error(err))
			}
			continue
		}
		cfg.ClientID = id
		clients[strings.ToLower(id)] = cfg
	}

	r.mu.Lock()
	r.clients = clients
	for id := range r.ignored {
		if !slices.Contains(ignored, id) {
			delete(r.ignored, id)
		}
	}
	r.mu.Unlock()

	r.logger.Info("clients loaded", zap.Int("count", len(clients)))
	return nil
}

// unusableID returns why id cannot name a client, or "" when it can.
// The global id is reserved for operator tokens.
func unusableID(id string) string {
	switch {
	case strings.EqualFold(id, auth.GlobalClient):
		return "reserved client id"
	case !snapshot.ValidClientID(id):
		return "invalid client id"
	}
	return ""
}

func (r *Registry) warnIgnored(id, reason string) {
	r.mu.Lock()
	seen := r.ignored[id]
	r.ignored[id] = true
	r.mu.Unlock()
	if !seen {
		r.logger.Warn("skipping client directory", zap.String("client", id), zap.String("reason", reason))
	}
}

func readConfig(path string) (models.ClientConfig, error) {
	var cfg models.ClientConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ListClientIDs returns the configured client ids in sorted order.
func (r *Registry) ListClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		ids = append(ids, c.ClientID)
	}
	sort.Strings(ids)
	return ids
}

// Client returns the configuration of id. The returned ClientID carries the
// directory's own spelling.
func (r *Registry) Client(id string) (models.ClientConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[strings.ToLower(strings.TrimSpace(id))]
	return c, ok
}

func (r *Registry) Exists(id string) bool {
	_, ok := r.Client(id)
	return ok
}

// ServiceMap reads the client's services file. It is read on every call so
// edits apply on the next refresh without a reload. A missing file yields
// an empty map.
func (r *Registry) ServiceMap(id string) (map[string]string, error) {
	c, ok := r.Client(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}

	f, err := os.Open(filepath.Join(r.root, c.ClientID, ServicesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("services file not found", zap.String("client", c.ClientID))
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	services, invalid, err := ParseServices(f)
	if err != nil {
		return nil, fmt.Errorf("reading services of %s: %w", c.ClientID, err)
	}
	for _, line := range invalid {
		r.logger.Warn("invalid services line", zap.String("client", c.ClientID), zap.String("line", line))
	}
	return services, nil
}

// ParseServices parses "name;address" lines. Blank lines are ignored and
// malformed lines are returned in invalid. Names are unique ignoring case;
// a later line replaces an earlier one.
func ParseServices(rd io.Reader) (services map[string]string, invalid []string, err error) {
	services = make(map[string]string)
	names := make(map[string]string)

	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, addr, ok := strings.Cut(line, ";")
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			invalid = append(invalid, line)
			continue
		}
		key := strings.ToLower(name)
		if prev, dup := names[key]; dup {
			delete(services, prev)
		}
		names[key] = name
		services[name] = addr
	}
	return services, invalid, sc.Err()
}
