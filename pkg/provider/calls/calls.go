// Package calls defines the interface to the voice-call transcription
// provider: listing recent calls over REST and attaching to live calls over
// WebSocket. The retell subpackage provides the production implementation.
package calls

import (
	"context"
	"errors"
	"time"
)

// Interaction types carried by live call events.
const (
	InteractionPingPong         = "ping_pong"
	InteractionUpdateOnly       = "update_only"
	InteractionCallDetails      = "call_details"
	InteractionResponseRequired = "response_required"
	InteractionReminderRequired = "reminder_required"
)

// CallStatusEnded is the terminal status reported by the provider for a
// finished call. Every other status value means the call is still running.
const CallStatusEnded = "ended"

// ErrUnauthorized is returned by a live session when the provider rejects the
// connection credential (close code 403).
var ErrUnauthorized = errors.New("calls: unauthorized")

// Turn is a single utterance in a call transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Call is a raw call record as returned by the provider's listing endpoint.
type Call struct {
	ID             string `json:"call_id"`
	AgentName      string `json:"agent_name"`
	StartTimestamp int64  `json:"start_timestamp"` // unix milliseconds
	EndTimestamp   int64  `json:"end_timestamp"`   // unix milliseconds
	DurationMS     int64  `json:"duration_ms"`
	Status         string `json:"call_status"`
	Summary        string `json:"call_summary"`
	Transcript     []Turn `json:"transcript_object"`
}

// LiveEvent is one JSON message received on a per-call socket. Only the
// latest snapshot per call is meaningful; events are not persisted.
type LiveEvent struct {
	InteractionType string `json:"interaction_type"`
	Transcript      []Turn `json:"transcript,omitempty"`
	TurnTaking      string `json:"turntaking,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// CallSession is a live bidirectional connection to a single in-progress
// call. The session answers provider keepalives itself; callers only consume
// Events.
type CallSession interface {
	// Events returns the stream of parsed live events. The channel is closed
	// when the connection drops or Close is called.
	Events() <-chan LiveEvent

	// Err returns the error that terminated the session, if any.
	// errors.Is(err, ErrUnauthorized) reports a credential rejection.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// RealtimeSession is the broadcast channel carrying live-transcription
// updates for whichever call last reported one. Messages are raw JSON; their
// shape is looser than LiveEvent and is interpreted by the consumer.
type RealtimeSession interface {
	Messages() <-chan []byte
	Err() error
	Close() error
}

// Provider lists calls and attaches live sessions.
type Provider interface {
	// ListCalls returns calls that ended within the trailing window.
	ListCalls(ctx context.Context, window time.Duration) ([]Call, error)

	// DialCall opens the per-call socket for callID.
	DialCall(ctx context.Context, callID string) (CallSession, error)

	// DialRealtime opens the broadcast socket.
	DialRealtime(ctx context.Context) (RealtimeSession, error)
}
