package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zeri-fi/radiodash/internal/observe"
	"github.com/zeri-fi/radiodash/pkg/provider/calls"
)

// State is a point-in-time snapshot of the panel.
type State struct {
	Transcripts []Transcript `json:"transcripts"`
	Err         string       `json:"error,omitempty"`
	Loading     bool         `json:"loading"`

	// LiveTranscription is the single current live value. Both the per-call
	// socket and the broadcast socket write it; the last writer wins.
	LiveTranscription string `json:"live_transcription,omitempty"`
}

// Option is a functional option for configuring the Syncer.
type Option func(*Syncer)

// WithPollInterval overrides the 60s refresh interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithWindow overrides the trailing one-hour listing window.
func WithWindow(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

// Syncer keeps the transcript list fresh and merges live WebSocket updates
// into it. One Syncer serves one panel lifetime; Close tears down the poll
// loop and any open sockets.
type Syncer struct {
	provider     calls.Provider
	pollInterval time.Duration
	window       time.Duration
	metrics      *observe.Metrics
	log          *slog.Logger

	mu          sync.Mutex
	transcripts []Transcript
	fetchErr    string
	loading     bool
	live        string
	rawEvents   map[string]calls.LiveEvent

	// callSess is the single tracked per-call connection. Only one
	// in-progress call is live-tracked at a time; a new connection is opened
	// only when the slot is empty.
	callSess   calls.CallSession
	callSessID string

	realtime calls.RealtimeSession

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSyncer creates a Syncer for the given call provider.
func NewSyncer(provider calls.Provider, opts ...Option) (*Syncer, error) {
	if provider == nil {
		return nil, errors.New("transcript: provider must not be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		provider:     provider,
		pollInterval: 60 * time.Second,
		window:       time.Hour,
		metrics:      observe.DefaultMetrics(),
		log:          slog.Default(),
		rawEvents:    make(map[string]calls.LiveEvent),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run refreshes once immediately, then on every poll tick until ctx is
// cancelled or Close is called. The poll tick is the only retry mechanism:
// dropped sockets are re-established here and nowhere else.
func (s *Syncer) Run(ctx context.Context) error {
	s.Refresh(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh fetches the call list and reconciles panel state. On fetch failure
// the list is cleared and an error message is surfaced; the loading flag is
// cleared on every path.
func (s *Syncer) Refresh(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.metrics.PollDuration.Record(ctx, time.Since(start).Seconds())
	}()

	// Requests inherit the Syncer lifetime so a fetch in flight during
	// teardown cannot write stale state afterwards.
	reqCtx, cancel := joinContexts(ctx, s.ctx)
	defer cancel()

	// The broadcast socket rides the poll cadence even when the fetch fails.
	s.ensureRealtime(ctx)

	raw, err := s.provider.ListCalls(reqCtx, s.window)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("transcript: call list fetch failed", "err", err)
		s.metrics.RecordProviderError(ctx, "calls", "list_calls")
		s.mu.Lock()
		s.transcripts = nil
		s.fetchErr = "Failed to load call transcripts. Please try again later."
		s.mu.Unlock()
		return
	}
	s.metrics.RecordProviderRequest(ctx, "calls", "list_calls", "ok")

	list := make([]Transcript, 0, len(raw))
	for _, c := range raw {
		tr, err := MapCall(c)
		if err != nil {
			// A bad record costs itself, not the batch.
			s.log.Warn("transcript: skipping unmappable call record", "err", err)
			continue
		}
		list = append(list, tr)
	}

	s.mu.Lock()
	s.transcripts = list
	s.fetchErr = ""
	s.mu.Unlock()

	s.ensureCallSocket(ctx, list)
}

// Snapshot returns a copy of the current panel state.
func (s *Syncer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := State{
		Transcripts:       make([]Transcript, len(s.transcripts)),
		Err:               s.fetchErr,
		Loading:           s.loading,
		LiveTranscription: s.live,
	}
	copy(out.Transcripts, s.transcripts)
	return out
}

// RawEvent returns the last raw live event recorded for callID.
func (s *Syncer) RawEvent(callID string) (calls.LiveEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.rawEvents[callID]
	return evt, ok
}

// ConnectCallSocket opens the per-call socket for callID if no connection is
// currently tracked. With the slot occupied it is a no-op, regardless of
// which call occupies it.
func (s *Syncer) ConnectCallSocket(ctx context.Context, callID string) error {
	s.mu.Lock()
	if s.callSess != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sess, err := s.provider.DialCall(ctx, callID)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "calls", "dial_call")
		return fmt.Errorf("transcript: connect call socket: %w", err)
	}

	s.mu.Lock()
	// A concurrent dial may have won the slot; the latecomer yields.
	if s.callSess != nil {
		s.mu.Unlock()
		sess.Close()
		return nil
	}
	s.callSess = sess
	s.callSessID = callID
	s.mu.Unlock()

	s.metrics.ActiveCallSockets.Add(ctx, 1)
	go s.consumeCallSession(callID, sess)
	return nil
}

// Close tears down the poll loop, the tracked call socket, and the broadcast
// socket. Idempotent.
func (s *Syncer) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		callSess := s.callSess
		realtime := s.realtime
		s.callSess = nil
		s.callSessID = ""
		s.realtime = nil
		s.mu.Unlock()

		if callSess != nil {
			callSess.Close()
		}
		if realtime != nil {
			realtime.Close()
		}
	})
	return nil
}

// consumeCallSession drains one per-call session until it ends, then releases
// the slot so a future call may reconnect.
func (s *Syncer) consumeCallSession(callID string, sess calls.CallSession) {
	for evt := range sess.Events() {
		if evt.InteractionType != calls.InteractionUpdateOnly || len(evt.Transcript) == 0 {
			continue
		}
		joined := JoinTurns(evt.Transcript)

		s.mu.Lock()
		s.live = joined
		s.rawEvents[callID] = evt
		s.mu.Unlock()

		s.metrics.RecordLiveUpdate(s.ctx, "call")
	}

	err := sess.Err()
	switch {
	case err == nil:
		s.log.Info("transcript: call socket closed", "call_id", callID)
	case errors.Is(err, calls.ErrUnauthorized):
		s.log.Error("transcript: call socket rejected credential", "call_id", callID)
		s.mu.Lock()
		s.fetchErr = "Authentication with the call service failed."
		s.mu.Unlock()
	default:
		s.log.Warn("transcript: call socket dropped", "call_id", callID, "err", err)
	}

	s.mu.Lock()
	if s.callSess == sess {
		s.callSess = nil
		s.callSessID = ""
	}
	s.mu.Unlock()
	s.metrics.ActiveCallSockets.Add(s.ctx, -1)
}

// ensureCallSocket arms the single call-socket slot for the first in-progress
// call in the list, if the slot is free.
func (s *Syncer) ensureCallSocket(ctx context.Context, list []Transcript) {
	s.mu.Lock()
	occupied := s.callSess != nil
	s.mu.Unlock()
	if occupied {
		return
	}

	for _, tr := range list {
		if tr.Status != StatusInProgress {
			continue
		}
		if err := s.ConnectCallSocket(ctx, tr.ID); err != nil {
			s.log.Warn("transcript: call socket connect failed", "call_id", tr.ID, "err", err)
		}
		return
	}
}

// ensureRealtime re-establishes the broadcast socket when it is down. Called
// only from Refresh so reconnection rides the poll cadence.
func (s *Syncer) ensureRealtime(ctx context.Context) {
	s.mu.Lock()
	alive := s.realtime != nil
	s.mu.Unlock()
	if alive {
		return
	}

	sess, err := s.provider.DialRealtime(ctx)
	if err != nil {
		s.log.Warn("transcript: realtime socket connect failed", "err", err)
		s.metrics.RecordProviderError(ctx, "calls", "dial_realtime")
		return
	}

	s.mu.Lock()
	if s.realtime != nil {
		s.mu.Unlock()
		sess.Close()
		return
	}
	s.realtime = sess
	s.mu.Unlock()

	go s.consumeRealtime(sess)
}

// consumeRealtime drains the broadcast socket. Any message carrying a call
// transcript overwrites the same live value the per-call socket writes.
func (s *Syncer) consumeRealtime(sess calls.RealtimeSession) {
	for msg := range sess.Messages() {
		text, ok := parseRealtimeTranscript(msg)
		if !ok {
			s.log.Debug("transcript: realtime message without transcript", "len", len(msg))
			continue
		}

		s.mu.Lock()
		s.live = text
		s.mu.Unlock()

		s.metrics.RecordLiveUpdate(s.ctx, "realtime")
	}

	if err := sess.Err(); err != nil {
		s.log.Warn("transcript: realtime socket dropped", "err", err)
	}

	s.mu.Lock()
	if s.realtime == sess {
		s.realtime = nil
	}
	s.mu.Unlock()
}

// parseRealtimeTranscript extracts a display transcript from a broadcast
// message. The transcript field may be a plain string, a list of strings, or
// a list of role/content turns; all three shapes have been observed.
func parseRealtimeTranscript(data []byte) (string, bool) {
	var envelope struct {
		Transcript json.RawMessage `json:"transcript"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Transcript) == 0 {
		return "", false
	}

	var text string
	if err := json.Unmarshal(envelope.Transcript, &text); err == nil {
		return text, text != ""
	}

	var turns []calls.Turn
	if err := json.Unmarshal(envelope.Transcript, &turns); err == nil && len(turns) > 0 && turns[0].Content != "" {
		return JoinTurns(turns), true
	}

	var lines []string
	if err := json.Unmarshal(envelope.Transcript, &lines); err == nil && len(lines) > 0 {
		return strings.Join(lines, "\n"), true
	}

	return "", false
}

// joinContexts returns a context cancelled as soon as either parent is.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
