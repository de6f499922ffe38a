package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"seat-queue-backend/config"
)

// envelope is the portal's response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type statusData struct {
	Seats []struct {
		Seat      string  `json:"seat"`
		State     string  `json:"state"`
		StudentID string  `json:"studentId"`
		EndTime   *string `json:"endTime"`
	} `json:"seats"`
}

type commandData struct {
	EndTime *string `json:"endTime"`
}

type commandBody struct {
	Room      string `json:"room"`
	Seat      string `json:"seat"`
	StudentID string `json:"studentId"`
}

// roomGate serializes calls for one room and paces them.
type roomGate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// Client is the HTTP implementation of SeatAdapter.
type Client struct {
	cfg    *config.PortalConfig
	loc    *time.Location
	client *http.Client

	mu    sync.Mutex
	rooms map[string]*roomGate
}

// NewClient creates a portal client. Timestamps without a zone are read in loc.
func NewClient(cfg *config.PortalConfig, loc *time.Location) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Portal client will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		cfg: cfg,
		loc: loc,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		rooms: make(map[string]*roomGate),
	}
}

func (c *Client) gate(room string) *roomGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.rooms[room]
	if !ok {
		g = &roomGate{limiter: rate.NewLimiter(rate.Limit(c.cfg.RoomRatePerSec), c.cfg.RoomBurst)}
		c.rooms[room] = g
	}
	return g
}

// enter blocks until the room is free and its rate budget allows another call.
func (c *Client) enter(ctx context.Context, room string) (func(), error) {
	g := c.gate(room)
	g.mu.Lock()
	if err := g.limiter.Wait(ctx); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	return g.mu.Unlock, nil
}

// Reserve asks the portal to assign seat to studentID.
func (c *Client) Reserve(ctx context.Context, room, seat, studentID string) (Result, error) {
	return c.command(ctx, "reserve", c.cfg.Paths.Reserve, commandBody{Room: room, Seat: seat, StudentID: studentID})
}

// Extend asks the portal to renew the student's hold on seat.
func (c *Client) Extend(ctx context.Context, room, seat, studentID string) (Result, error) {
	return c.command(ctx, "extend", c.cfg.Paths.Extend, commandBody{Room: room, Seat: seat, StudentID: studentID})
}

// Release returns the student's seat to the portal.
func (c *Client) Release(ctx context.Context, room, seat, studentID string) (Result, error) {
	return c.command(ctx, "release", c.cfg.Paths.Release, commandBody{Room: room, Seat: seat, StudentID: studentID})
}

// PollStatus returns the state of every seat of room.
func (c *Client) PollStatus(ctx context.Context, room string) ([]SeatState, error) {
	op := "poll " + room
	leave, err := c.enter(ctx, room)
	if err != nil {
		return nil, Classify(err)
	}
	defer leave()

	endpoint := c.cfg.BaseURL + c.cfg.Paths.Status + "?room=" + url.QueryEscape(room)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent(op, fmt.Errorf("failed to create request: %w", err))
	}

	env, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, c.codeError(op, env)
	}

	var data statusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, Transient(op, fmt.Errorf("failed to unmarshal seat status: %w", err))
	}

	seats := make([]SeatState, 0, len(data.Seats))
	for _, s := range data.Seats {
		state := SeatState{Seat: s.Seat, Status: c.seatStatus(s.State), StudentID: s.StudentID}
		endsAt, err := c.parseTimestamp(s.EndTime)
		if err != nil {
			log.Printf("Warning: could not parse endTime for %s/%s: %v", room, s.Seat, err)
		}
		state.EndsAt = endsAt
		seats = append(seats, state)
	}
	return seats, nil
}

func (c *Client) command(ctx context.Context, name, path string, body commandBody) (Result, error) {
	op := fmt.Sprintf("%s %s/%s", name, body.Room, body.Seat)
	leave, err := c.enter(ctx, body.Room)
	if err != nil {
		return Result{}, Classify(err)
	}
	defer leave()

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Result{}, Permanent(op, fmt.Errorf("failed to marshal request payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return Result{}, Permanent(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(op, req)
	if err != nil {
		return Result{}, err
	}
	if env.Code != 0 {
		if c.transientCode(env.Code) {
			return Result{}, c.codeError(op, env)
		}
		return Result{Success: false, Reason: env.Message}, nil
	}

	result := Result{Success: true, Reason: env.Message}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		var data commandData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Printf("Warning: could not decode %s response data: %v", op, err)
		} else if endsAt, err := c.parseTimestamp(data.EndTime); err != nil {
			log.Printf("Warning: could not parse endTime of %s: %v", op, err)
		} else {
			result.EndsAt = endsAt
		}
	}
	return result, nil
}

// do sends req and decodes the envelope, classifying transport and HTTP failures.
func (c *Client) do(op string, req *http.Request) (*envelope, error) {
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Classify(fmt.Errorf("%s: http request failed: %w", op, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(op, fmt.Errorf("received status code: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, Permanent(op, fmt.Errorf("received status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(op, fmt.Errorf("failed to read response body: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, Transient(op, fmt.Errorf("failed to unmarshal portal response: %w", err))
	}
	return &env, nil
}

func (c *Client) codeError(op string, env *envelope) *Error {
	err := fmt.Errorf("portal returned code %d: %s", env.Code, env.Message)
	if c.transientCode(env.Code) {
		return Transient(op, err)
	}
	return Permanent(op, err)
}

func (c *Client) transientCode(code int) bool {
	for _, v := range c.cfg.TransientCodes {
		if v == code {
			return true
		}
	}
	return false
}

// seatStatus maps the portal's state label onto SeatStatus.
func (c *Client) seatStatus(label string) SeatStatus {
	for _, v := range c.cfg.StateAvailable {
		if label == v {
			return SeatAvailable
		}
	}
	for _, v := range c.cfg.StateOccupied {
		if label == v {
			return SeatOccupied
		}
	}
	for _, v := range c.cfg.StateUnavailable {
		if label == v {
			return SeatUnavailable
		}
	}
	log.Printf("Warning: unknown seat state %q, treating it as unavailable", label)
	return SeatUnavailable
}

// parseTimestamp reads a portal timestamp in the configured layout and location.
func (c *Client) parseTimestamp(ts *string) (*time.Time, error) {
	if ts == nil || *ts == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation(c.cfg.TimestampLayout, *ts, c.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", *ts, err)
	}
	return &parsed, nil
}

var _ SeatAdapter = (*Client)(nil)
