// Package client is a Go client for the branchdown HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// NoDepthFilter asks GetBranchPoints for every depth.
const NoDepthFilter = -1

type Stream struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type Point struct {
	ID        int64   `json:"id"`
	StreamID  int64   `json:"streamId"`
	ParentID  *int64  `json:"parentId"`
	ItemID    *string `json:"itemId"`
	BranchNum int     `json:"branchNum"`
	Depth     int     `json:"depth"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreakerSettings replaces the default circuit breaker settings.
// IsSuccessful is always overridden so that only transport failures count.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(c *Client) { c.breaker = s }
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker gobreaker.Settings
	cb      *gobreaker.CircuitBreaker
}

func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// New returns a client for the server at baseURL. A trailing slash on
// baseURL is ignored.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: DefaultBreakerSettings("branchdown"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.IsSuccessful = func(err error) bool {
		var te *TransportError
		return !errors.As(err, &te)
	}
	c.cb = gobreaker.NewCircuitBreaker(c.breaker)
	return c, nil
}

func (c *Client) CreateStream(ctx context.Context) (Stream, error) {
	var s Stream
	err := c.do(ctx, "createStream", http.MethodPost, "/api/streams", nil, &s)
	return s, err
}

func (c *Client) GetStream(ctx context.Context, streamID int64) (Stream, error) {
	var s Stream
	err := c.do(ctx, "getStream", http.MethodGet, "/api/streams/"+id(streamID), nil, &s)
	return s, err
}

func (c *Client) DeleteStream(ctx context.Context, streamID int64) error {
	return c.do(ctx, "deleteStream", http.MethodDelete, "/api/streams/"+id(streamID), nil, nil)
}

func (c *Client) GetStreamPoints(ctx context.Context, streamID int64) ([]Point, error) {
	var points []Point
	err := c.do(ctx, "getStreamPoints", http.MethodGet, "/api/streams/"+id(streamID)+"/points", nil, &points)
	return points, err
}

// GetBranchPoints returns the points of one branch with depth > depth.
// Pass NoDepthFilter for all of them.
func (c *Client) GetBranchPoints(ctx context.Context, streamID int64, branchNum, depth int) ([]Point, error) {
	path := "/api/streams/" + id(streamID) + "/branches/" + strconv.Itoa(branchNum) + "/points"
	if depth != NoDepthFilter {
		path += "?depth=" + strconv.Itoa(depth)
	}
	var points []Point
	err := c.do(ctx, "getBranchPoints", http.MethodGet, path, nil, &points)
	return points, err
}

// AddPoint inserts itemID as a child of parentID. An empty itemID is
// rejected without contacting the server.
func (c *Client) AddPoint(ctx context.Context, parentID int64, itemID string) (Point, error) {
	if itemID == "" {
		return Point{}, fmt.Errorf("addPoint: %w: itemId is required", ErrInvalidArgument)
	}
	var p Point
	body := struct {
		ItemID string `json:"itemId"`
	}{itemID}
	err := c.do(ctx, "addPoint", http.MethodPost, "/api/points/"+id(parentID)+"/down", body, &p)
	return p, err
}

func (c *Client) GetAncestors(ctx context.Context, pointID int64) ([]Point, error) {
	var points []Point
	err := c.do(ctx, "getAncestors", http.MethodGet, "/api/points/"+id(pointID)+"/ancestors", nil, &points)
	return points, err
}

// BreakerState exposes the circuit breaker state, e.g. for health output.
func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

type result struct {
	status int
	env    envelope
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		payload = b
	}

	v, err := c.cb.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, op, method, path, payload)
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		return &TransportError{Op: op, Err: err}
	}

	res := v.(result)
	if !res.env.Success {
		return &APIError{StatusCode: res.status, Message: res.env.Message}
	}
	if out == nil || len(res.env.Data) == 0 || string(res.env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(res.env.Data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload []byte) (result, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return result{}, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{}, &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return result{}, &TransportError{Op: op, Err: fmt.Errorf("status %d: decode envelope: %w", resp.StatusCode, err)}
	}
	return result{status: resp.StatusCode, env: env}, nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}
