package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Pirikara/pipgate/internal/logger"
)

const (
	// DefaultTimeout bounds every policy query
	DefaultTimeout = 30 * time.Second

	// PingTimeout bounds the liveness check
	PingTimeout = 5 * time.Second

	maxBodySize = 1 << 20
)

// Observer receives one observation per completed query
type Observer interface {
	ObserveQuery(endpoint, result string, d time.Duration)
}

// Client queries the package firewall. It holds no per-package state and is
// safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	observer   Observer
	logger     *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets the underlying transport client (TLS, proxies)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver records query metrics
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithLogger logs every query at debug level
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the firewall at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the firewall base URL without trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BlockRecordURL returns the URL a user can fetch for block details
func (c *Client) BlockRecordURL(name string) string {
	return c.baseURL + "/blocked/" + url.PathEscape(strings.ToLower(name))
}

// CheckIndex looks the package up in the firewall's simple index
func (c *Client) CheckIndex(ctx context.Context, name string) (IndexStatus, error) {
	const op = "check index"
	name = strings.ToLower(name)

	status, _, elapsed, err := c.get(ctx, "/simple/"+url.PathEscape(name)+"/", c.timeout, false)
	if err != nil {
		te := c.transportError(ctx, op, name, err)
		c.observe("simple", string(te.Kind), elapsed)
		return "", te
	}

	var result IndexStatus
	switch status {
	case http.StatusOK:
		result = IndexExists
	case http.StatusNotFound:
		result = IndexNotFound
	case http.StatusForbidden:
		result = IndexBlocked
	default:
		c.observe("simple", string(KindUnexpectedStatus), elapsed)
		return "", &TransportError{Op: op, Package: name, Kind: KindUnexpectedStatus, StatusCode: status}
	}

	c.observe("simple", string(result), elapsed)
	c.logger.Debug("index_checked", "Index lookup completed", map[string]interface{}{
		"package": name,
		"status":  string(result),
		"elapsed": elapsed.String(),
	})
	return result, nil
}

// GetBlockRecord fetches the detailed block record. A nil record with a nil
// error means the firewall has no block record for the package.
func (c *Client) GetBlockRecord(ctx context.Context, name string) (*BlockRecord, error) {
	const op = "get block record"
	name = strings.ToLower(name)

	status, body, elapsed, err := c.get(ctx, "/blocked/"+url.PathEscape(name), c.timeout, true)
	if err != nil {
		te := c.transportError(ctx, op, name, err)
		c.observe("blocked", string(te.Kind), elapsed)
		return nil, te
	}

	switch status {
	case http.StatusNotFound:
		c.observe("blocked", "no_block_record", elapsed)
		return nil, nil
	case http.StatusOK:
		record, err := decodeBlockRecord(name, body)
		if err != nil {
			c.observe("blocked", string(KindMalformedResponse), elapsed)
			return nil, &TransportError{Op: op, Package: name, Kind: KindMalformedResponse, StatusCode: status, Detail: err.Error()}
		}
		c.observe("blocked", "block_record", elapsed)
		c.logger.Debug("block_record_fetched", "Block record found", map[string]interface{}{
			"package":          name,
			"blocked_versions": record.BlockedVersions,
			"elapsed":          elapsed.String(),
		})
		return record, nil
	default:
		c.observe("blocked", string(KindUnexpectedStatus), elapsed)
		return nil, &TransportError{Op: op, Package: name, Kind: KindUnexpectedStatus, StatusCode: status}
	}
}

// Ping requests the index root. Only a 200 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	const op = "ping"

	timeout := PingTimeout
	if c.timeout < timeout {
		timeout = c.timeout
	}

	status, _, elapsed, err := c.get(ctx, "/simple/", timeout, false)
	if err != nil {
		te := c.transportError(ctx, op, "", err)
		c.observe("ping", string(te.Kind), elapsed)
		return te
	}
	if status != http.StatusOK {
		c.observe("ping", string(KindUnexpectedStatus), elapsed)
		return &TransportError{Op: op, Kind: KindUnexpectedStatus, StatusCode: status}
	}
	c.observe("ping", "reachable", elapsed)
	return nil
}

// get performs one bounded GET and optionally reads the body
func (c *Client) get(ctx context.Context, path string, timeout time.Duration, readBody bool) (int, []byte, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	var body []byte
	if readBody && resp.StatusCode == http.StatusOK {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return 0, nil, time.Since(start), err
		}
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	}

	return resp.StatusCode, body, time.Since(start), nil
}

// transportError classifies a failed request. parent is the caller's
// context, so a cancellation is not mistaken for a timeout.
func (c *Client) transportError(parent context.Context, op, name string, err error) *TransportError {
	te := &TransportError{Op: op, Package: name, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		te.Kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		te.Kind = KindTimeout
		te.Detail = "no answer from " + c.baseURL
		te.Err = nil
	default:
		te.Kind = KindUnreachable
		te.Detail = "cannot connect to firewall at " + c.baseURL
	}

	c.logger.Debug("firewall_request_failed", te.Error(), map[string]interface{}{
		"package": name,
		"kind":    string(te.Kind),
	})
	return te
}

func (c *Client) observe(endpoint, result string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveQuery(endpoint, result, d)
	}
}

// decodeBlockRecord interprets a 200 body from /blocked/{package}
func decodeBlockRecord(name string, body []byte) (*BlockRecord, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return nil, errors.New("empty body")
	}

	var payload blockPayload
	if err := mapstructure.Decode(raw, &payload); err != nil {
		return nil, fmt.Errorf("unexpected field types: %w", err)
	}
	if payload.Status != "blocked" {
		return nil, fmt.Errorf("unexpected status %q", payload.Status)
	}

	record := &BlockRecord{
		Package:         payload.Package,
		BlockedVersions: payload.BlockedVersionsList,
		Reasons:         payload.Reasons,
	}
	if record.Package == "" {
		record.Package = name
	}

	switch v := payload.BlockedVersions.(type) {
	case nil:
		record.BlockedCount = len(record.BlockedVersions)
	case float64:
		record.BlockedCount = int(v)
	case []any:
		if record.BlockedVersions == nil {
			var versions []string
			if err := mapstructure.Decode(v, &versions); err != nil {
				return nil, fmt.Errorf("unexpected blocked_versions: %w", err)
			}
			record.BlockedVersions = versions
		}
		record.BlockedCount = len(record.BlockedVersions)
	default:
		return nil, fmt.Errorf("unexpected blocked_versions type %T", v)
	}

	return record, nil
}
