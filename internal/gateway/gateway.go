// Package gateway hosts the inbound WebSocket endpoints that live calls
// connect to: a per-call socket speaking the transcription provider's
// interaction protocol, a broadcast socket fanning live events out to
// dashboard clients, and a webhook for call lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/zeri-fi/radiodash/internal/observe"
	"github.com/zeri-fi/radiodash/pkg/provider/calls"
)

// subscriberBuffer is the per-client broadcast queue depth. A slow client
// loses messages rather than stalling the hub.
const subscriberBuffer = 32

// Option is a functional option for configuring the Gateway.
type Option func(*Gateway)

// WithAgentName sets the agent name reported in the config frame.
func WithAgentName(name string) Option {
	return func(g *Gateway) { g.agentName = name }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// Gateway owns the inbound endpoints and the broadcast hub between them.
type Gateway struct {
	apiKey    string
	agentName string
	metrics   *observe.Metrics
	log       *slog.Logger

	mu   sync.Mutex
	subs map[string]chan []byte
}

// New creates a Gateway. apiKey is echoed in the config frame so the
// provider can re-authenticate the socket.
func New(apiKey string, opts ...Option) *Gateway {
	g := &Gateway{
		apiKey:  apiKey,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		subs:    make(map[string]chan []byte),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Register adds the gateway routes to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /llm-websocket/{call_id}", g.HandleCall)
	mux.HandleFunc("GET /realtime", g.HandleRealtime)
	mux.HandleFunc("POST /webhook", g.HandleWebhook)
}

// configFrame is the first message sent on a freshly accepted call socket.
type configFrame struct {
	ResponseType string         `json:"response_type"`
	Config       map[string]any `json:"config"`
	ResponseID   int            `json:"response_id"`
}

// HandleCall serves the per-call socket. It sends the config frame, echoes
// keepalives, and broadcasts transcript updates to the hub.
func (g *Gateway) HandleCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("gateway: call socket accept failed", "call_id", callID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := r.Context()

	cfg := configFrame{
		ResponseType: "config",
		Config: map[string]any{
			"auto_reconnect":             true,
			"call_details":               true,
			"update_only":                true,
			"transcript_with_tool_calls": true,
			"agent_name":                 g.agentName,
			"api_key":                    g.apiKey,
		},
		ResponseID: 1,
	}
	if err := writeJSON(ctx, conn, cfg); err != nil {
		g.log.Warn("gateway: config frame write failed", "call_id", callID, "err", err)
		return
	}

	g.metrics.GatewayConnections.Add(ctx, 1)
	defer g.metrics.GatewayConnections.Add(context.Background(), -1)

	g.log.Info("gateway: call attached", "call_id", callID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			g.log.Info("gateway: call detached", "call_id", callID, "err", err)
			return
		}
		g.handleCallMessage(ctx, conn, callID, data)
	}
}

// handleCallMessage dispatches one inbound interaction. Malformed payloads
// are logged and dropped; the connection stays open.
func (g *Gateway) handleCallMessage(ctx context.Context, conn *websocket.Conn, callID string, data []byte) {
	var evt calls.LiveEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		g.log.Warn("gateway: unparseable call message", "call_id", callID, "err", err)
		return
	}

	switch evt.InteractionType {
	case calls.InteractionPingPong:
		// The provider expects its own timestamp back.
		reply := map[string]any{
			"response_type": calls.InteractionPingPong,
			"timestamp":     evt.Timestamp,
		}
		if err := writeJSON(ctx, conn, reply); err != nil {
			g.log.Warn("gateway: keepalive write failed", "call_id", callID, "err", err)
		}

	case calls.InteractionUpdateOnly:
		// Relay the raw event so dashboard clients see live transcription.
		g.Broadcast(data)

	case calls.InteractionCallDetails:
		g.log.Info("gateway: call details received", "call_id", callID)

	case calls.InteractionResponseRequired, calls.InteractionReminderRequired:
		g.log.Info("gateway: response requested", "call_id", callID, "interaction_type", evt.InteractionType)

	default:
		g.log.Debug("gateway: unknown interaction type", "call_id", callID, "interaction_type", evt.InteractionType)
	}
}

// HandleRealtime serves the broadcast socket for dashboard clients. The
// client only listens; inbound frames are read and discarded.
func (g *Gateway) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("gateway: realtime accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := r.Context()
	id, ch := g.subscribe()
	defer g.unsubscribe(id)

	g.log.Info("gateway: realtime client connected", "client_id", id, "total", g.subscriberCount())

	// Drain inbound frames so pings and client noise do not back up.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				g.log.Info("gateway: realtime client disconnected", "client_id", id)
				return
			}
		}
	}
}

// webhookEvent is the call lifecycle notification posted by the provider.
type webhookEvent struct {
	Event string          `json:"event"`
	Call  json.RawMessage `json:"call"`
}

// HandleWebhook accepts call lifecycle events and relays them to realtime
// clients. Replies 204 on success.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var evt webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		g.log.Warn("gateway: bad webhook payload", "err", err)
		http.Error(w, `{"message":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}

	g.log.Info("gateway: webhook event", "event", evt.Event)

	out, err := json.Marshal(map[string]any{
		"event": evt.Event,
		"call":  evt.Call,
	})
	if err != nil {
		http.Error(w, `{"message":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}
	g.Broadcast(out)

	w.WriteHeader(http.StatusNoContent)
}

// Broadcast sends msg to every connected realtime client. Clients whose
// queue is full miss this message.
func (g *Gateway) Broadcast(msg []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.subs {
		select {
		case ch <- msg:
		default:
			g.log.Warn("gateway: dropping broadcast for slow client", "client_id", id)
		}
	}
}

func (g *Gateway) subscribe() (string, chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	g.mu.Lock()
	g.subs[id] = ch
	g.mu.Unlock()
	return id, ch
}

func (g *Gateway) unsubscribe(id string) {
	g.mu.Lock()
	delete(g.subs, id)
	g.mu.Unlock()
}

func (g *Gateway) subscriberCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
