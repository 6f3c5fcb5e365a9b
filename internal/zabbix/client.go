// Package zabbix is a small JSON-RPC client for the Zabbix API covering the
// host and event lookups the downtime engine needs.
package zabbix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

// ErrCircuitOpen is returned while the client's breaker rejects calls.
var ErrCircuitOpen = errors.New("zabbix: circuit open")

// RPCError is an error object returned by the API.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("zabbix rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("zabbix rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int64           `json:"id"`
}

type BreakerOptions struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

type Options struct {
	// Server is the frontend base URL, e.g. https://host/zabbix.
	Server             string
	Token              string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Breaker            BreakerOptions

	// Name labels the breaker and log lines, usually the client id.
	Name string
}

// Client talks to a single Zabbix server with a single API token.
type Client struct {
	url     string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	nextID  atomic.Int64
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	failures := opts.Breaker.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	logger = logger.With(zap.String("zabbix", opts.Name))

	settings := gobreaker.Settings{
		Name:        "zabbix-" + opts.Name,
		MaxRequests: opts.Breaker.MaxRequests,
		Interval:    opts.Breaker.Interval,
		Timeout:     opts.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		url:     strings.TrimRight(opts.Server, "/") + "/api_jsonrpc.php",
		token:   opts.Token,
		http:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Call invokes method with params and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, method, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: %w", method, ErrCircuitOpen)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	result, _ := raw.(json.RawMessage)
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("zabbix http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Result, nil
}

var hostOutput = []string{"hostid", "host", "name", "status", "available"}

// GetHosts returns the hosts with an interface on ip. An exact filter is
// tried first; some setups only match when the interfaces are scanned.
func (c *Client) GetHosts(ctx context.Context, ip string) ([]models.Host, error) {
	ip = strings.TrimSpace(ip)

	var hosts []models.Host
	err := c.Call(ctx, "host.get", map[string]interface{}{
		"output":           hostOutput,
		"selectInterfaces": []string{"ip", "available", "error"},
		"filter":           map[string]string{"ip": ip},
	}, &hosts)
	if err != nil {
		return nil, err
	}
	if len(hosts) > 0 {
		return hosts, nil
	}

	c.logger.Debug("exact host filter empty, scanning interfaces", zap.String("ip", ip))
	var all []models.Host
	err = c.Call(ctx, "host.get", map[string]interface{}{
		"output":           hostOutput,
		"selectInterfaces": []string{"ip", "available", "error"},
	}, &all)
	if err != nil {
		return nil, err
	}

	for _, h := range all {
		for _, iface := range h.Interfaces {
			if strings.TrimSpace(iface.IP) == ip {
				hosts = append(hosts, h)
				break
			}
		}
	}
	return hosts, nil
}

// GetEvents returns events matching q, oldest first.
func (c *Client) GetEvents(ctx context.Context, q models.EventQuery) ([]models.Event, error) {
	params := map[string]interface{}{
		"output":      []string{"eventid", "clock", "r_eventid", "name"},
		"search":      map[string][]string{"name": q.Search},
		"searchByAny": false,
		"time_from":   q.TimeFrom,
		"time_till":   q.TimeTill,
		"value":       q.Value,
		"sortfield":   []string{"clock"},
		"sortorder":   "ASC",
	}
	if len(q.HostIDs) > 0 {
		params["hostids"] = q.HostIDs
	}

	var events []models.Event
	if err := c.Call(ctx, "event.get", params, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEventsByIDs fetches the given events in one request.
func (c *Client) GetEventsByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var events []models.Event
	err := c.Call(ctx, "event.get", map[string]interface{}{
		"output":   []string{"clock", "eventid"},
		"eventids": ids,
	}, &events)
	if err != nil {
		return nil, err
	}
	return events, nil
}
