package zabbix

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

var ErrNoServer = errors.New("zabbix: no server configured")

// Pool keeps one Client per tenant so each tenant has its own credentials
// and breaker. A client is rebuilt when the tenant's server or token change.
type Pool struct {
	defaults Options
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[string]pooled
}

type pooled struct {
	server string
	token  string
	client *Client
}

// NewPool returns a pool whose clients inherit defaults; Server and Token
// in defaults are used when a tenant leaves them empty.
func NewPool(defaults Options, logger *zap.Logger) *Pool {
	return &Pool{
		defaults: defaults,
		logger:   logger,
		clients:  make(map[string]pooled),
	}
}

// For returns the client for cfg.
func (p *Pool) For(cfg models.ClientConfig) (*Client, error) {
	server := cfg.ZabbixServer
	if server == "" {
		server = p.defaults.Server
	}
	token := cfg.ZabbixAPIToken
	if token == "" {
		token = p.defaults.Token
	}
	if server == "" {
		return nil, ErrNoServer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.clients[cfg.ClientID]; ok && existing.server == server && existing.token == token {
		return existing.client, nil
	}

	opts := p.defaults
	opts.Server = server
	opts.Token = token
	opts.Name = cfg.ClientID
	c := NewClient(opts, p.logger)
	p.clients[cfg.ClientID] = pooled{server: server, token: token, client: c}
	return c, nil
}
