// Package retell implements the calls.Provider interface against the Retell
// AI call-transcription service: the v2 list-calls REST endpoint, the
// per-call LLM WebSocket, and the realtime broadcast WebSocket.
package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/zeri-fi/radiodash/pkg/provider/calls"
)

// Compile-time assertions that the provider and sessions satisfy the calls
// interfaces.
var (
	_ calls.Provider        = (*Provider)(nil)
	_ calls.CallSession     = (*callSession)(nil)
	_ calls.RealtimeSession = (*realtimeSession)(nil)
)

const (
	defaultBaseURL    = "https://api.retellai.com"
	defaultCallWSFmt  = "wss://api.retellai.com/llm-websocket/%s"
	defaultRealtimeWS = "wss://api.retellai.com/realtime"
)

// Option is a functional option for configuring the Retell Provider.
type Option func(*Provider)

// WithBaseURL overrides the REST base URL. Primarily used in tests to point
// at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithCallSocketURL overrides the per-call WebSocket URL template. The
// template must contain exactly one %s, which receives the call id.
func WithCallSocketURL(format string) Option {
	return func(p *Provider) { p.callWSFmt = format }
}

// WithRealtimeURL overrides the broadcast WebSocket URL.
func WithRealtimeURL(url string) Option {
	return func(p *Provider) { p.realtimeURL = url }
}

// WithHTTPClient overrides the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements calls.Provider backed by the Retell API.
type Provider struct {
	apiKey      string
	baseURL     string
	callWSFmt   string
	realtimeURL string
	httpClient  *http.Client
}

// New creates a new Retell Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("retell: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		callWSFmt:   defaultCallWSFmt,
		realtimeURL: defaultRealtimeWS,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- list-calls REST ----

type timestampRange struct {
	LowerThreshold int64 `json:"lower_threshold"`
	UpperThreshold int64 `json:"upper_threshold"`
}

type listCallsRequest struct {
	FilterCriteria struct {
		EndTimestamp timestampRange `json:"end_timestamp"`
	} `json:"filter_criteria"`
	SortOrder string `json:"sort_order"`
}

// ListCalls fetches calls whose end timestamp falls within the trailing
// window. The response body may be either a bare JSON array of call records
// or an object wrapping it under a "calls" key; both are accepted.
func (p *Provider) ListCalls(ctx context.Context, window time.Duration) ([]calls.Call, error) {
	now := time.Now().UnixMilli()

	var reqBody listCallsRequest
	reqBody.FilterCriteria.EndTimestamp = timestampRange{
		LowerThreshold: now - window.Milliseconds(),
		UpperThreshold: now,
	}
	reqBody.SortOrder = "descending"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("retell: marshal list-calls request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/list-calls", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retell: build list-calls request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retell: list-calls: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retell: list-calls: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("retell: read list-calls response: %w", err)
	}
	return parseListCallsResponse(data)
}

// parseListCallsResponse accepts both response encodings the service has
// shipped: a bare array, or {"calls": [...]}.
func parseListCallsResponse(data []byte) ([]calls.Call, error) {
	var list []calls.Call
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Calls []calls.Call `json:"calls"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("retell: decode list-calls response: %w", err)
	}
	return wrapped.Calls, nil
}

// ---- per-call session ----

// pingPongReply is the keepalive answer the provider expects on its
// ping_pong interactions. The api key re-authenticates the connection.
type pingPongReply struct {
	ResponseType string `json:"response_type"`
	Timestamp    int64  `json:"timestamp"`
	APIKey       string `json:"api_key"`
}

// DialCall opens the per-call WebSocket for callID and starts the read loop.
func (p *Provider) DialCall(ctx context.Context, callID string) (calls.CallSession, error) {
	wsURL := fmt.Sprintf(p.callWSFmt, callID)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("retell: dial call %s: %w", callID, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &callSession{
		callID: callID,
		apiKey: p.apiKey,
		conn:   conn,
		events: make(chan calls.LiveEvent, 16),
		ctx:    sessCtx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

type callSession struct {
	callID string
	apiKey string
	conn   *websocket.Conn
	events chan calls.LiveEvent

	mu     sync.Mutex
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *callSession) Events() <-chan calls.LiveEvent { return s.events }

func (s *callSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *callSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop receives JSON messages, answers keepalives, and forwards parsed
// events. It owns the events channel and closes it on exit.
func (s *callSession) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(classifyCloseErr(err))
			return
		}

		var evt calls.LiveEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Malformed payloads never tear down the connection.
			slog.Warn("retell: unparseable call socket message", "call_id", s.callID, "err", err)
			continue
		}

		if evt.InteractionType == calls.InteractionPingPong {
			s.answerPingPong()
			continue
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

// answerPingPong writes the keepalive reply with a fresh timestamp.
func (s *callSession) answerPingPong() {
	reply := pingPongReply{
		ResponseType: calls.InteractionPingPong,
		Timestamp:    time.Now().UnixMilli(),
		APIKey:       s.apiKey,
	}
	data, _ := json.Marshal(reply)
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		slog.Warn("retell: keepalive write failed", "call_id", s.callID, "err", err)
	}
}

func (s *callSession) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// classifyCloseErr maps a close code of 403 onto calls.ErrUnauthorized so
// callers can surface it as an authentication failure.
func classifyCloseErr(err error) error {
	if websocket.CloseStatus(err) == 403 {
		return fmt.Errorf("%w: %v", calls.ErrUnauthorized, err)
	}
	return err
}

// ---- realtime session ----

// DialRealtime opens the broadcast WebSocket and starts forwarding raw
// messages.
func (p *Provider) DialRealtime(ctx context.Context) (calls.RealtimeSession, error) {
	conn, _, err := websocket.Dial(ctx, p.realtimeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("retell: dial realtime: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &realtimeSession{
		conn:     conn,
		messages: make(chan []byte, 16),
		ctx:      sessCtx,
		cancel:   cancel,
	}
	go s.readLoop()
	return s, nil
}

type realtimeSession struct {
	conn     *websocket.Conn
	messages chan []byte

	mu     sync.Mutex
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *realtimeSession) Messages() <-chan []byte { return s.messages }

func (s *realtimeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *realtimeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *realtimeSession) readLoop() {
	defer close(s.messages)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			if s.errVal == nil {
				s.errVal = err
			}
			s.mu.Unlock()
			return
		}

		select {
		case s.messages <- data:
		case <-s.ctx.Done():
			return
		}
	}
}
