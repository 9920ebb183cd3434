// ABOUTME: HTTP client for the device telemetry and floorplan backend
// ABOUTME: Parses the json.htm responses with gjson

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTimeout bounds every backend call.
const DefaultTimeout = 5 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 4 << 20

// ErrUnknownResource is returned when the backend has no device with the id.
var ErrUnknownResource = errors.New("unknown resource")

// ErrBackend is returned when the backend answers with a non-OK status field.
var ErrBackend = errors.New("backend error")

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telemetry backend returned status %d: %s", e.StatusCode, e.Body)
}

// State is the reported state of a monitored resource.
type State int

const (
	StateUnknown State = iota
	StateActive
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

func parseState(status string) State {
	switch status {
	case "On":
		return StateActive
	case "Off":
		return StateInactive
	default:
		return StateUnknown
	}
}

// Resource is one device as reported by the backend.
type Resource struct {
	ID    string
	Name  string
	State State
}

// Client talks to one backend.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for baseURL. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "telemetry"),
	}
}

// Resource fetches the name and state of one device.
func (c *Client) Resource(ctx context.Context, id string) (Resource, error) {
	result, err := c.call(ctx, url.Values{"type": {"devices"}, "rid": {id}})
	if err != nil {
		return Resource{}, err
	}

	dev := result.Get("0")
	if !dev.Exists() {
		return Resource{}, fmt.Errorf("resource %s: %w", id, ErrUnknownResource)
	}
	return Resource{
		ID:    id,
		Name:  dev.Get("Name").String(),
		State: parseState(dev.Get("Status").String()),
	}, nil
}

// ResourceState reports whether the device is active.
func (c *Client) ResourceState(ctx context.Context, id string) (State, error) {
	r, err := c.Resource(ctx, id)
	if err != nil {
		return StateUnknown, err
	}
	return r.State, nil
}

// ResourceName returns the display name of the device.
func (c *Client) ResourceName(ctx context.Context, id string) (string, error) {
	r, err := c.Resource(ctx, id)
	if err != nil {
		return "", err
	}
	return r.Name, nil
}

// ListLocations returns every used floorplan keyed by its id.
func (c *Client) ListLocations(ctx context.Context) (map[string]string, error) {
	result, err := c.call(ctx, url.Values{"type": {"plans"}, "order": {"name"}, "used": {"true"}})
	if err != nil {
		return nil, err
	}
	return idxNames(result), nil
}

// ListResourcesAt returns the devices placed in a location keyed by id.
func (c *Client) ListResourcesAt(ctx context.Context, locationID string) (map[string]string, error) {
	result, err := c.call(ctx, url.Values{"type": {"command"}, "param": {"getplandevices"}, "idx": {locationID}})
	if err != nil {
		return nil, err
	}
	return idxNames(result), nil
}

// call performs one json.htm query and returns its "result" member.
func (c *Client) call(ctx context.Context, query url.Values) (gjson.Result, error) {
	endpoint := c.baseURL + "/json.htm?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("querying telemetry backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("decoding response: invalid JSON")
	}

	doc := gjson.ParseBytes(body)
	if status := doc.Get("status").String(); status != "" && status != "OK" {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrBackend, doc.Get("message").String())
	}

	c.logger.Debug("telemetry query", "type", query.Get("type"), "results", len(doc.Get("result").Array()))
	return doc.Get("result"), nil
}

func idxNames(result gjson.Result) map[string]string {
	out := make(map[string]string)
	result.ForEach(func(_, item gjson.Result) bool {
		out[item.Get("idx").String()] = item.Get("Name").String()
		return true
	})
	return out
}
