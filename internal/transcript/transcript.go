// Package transcript maintains the call-transcript panel state: a
// periodically refreshed list of calls, live-updating content for in-progress
// calls pushed over WebSocket, and per-transcript follow-up chat threads.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeri-fi/radiodash/pkg/provider/calls"
)

// Status is the panel-level call state.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in-progress"
)

// Transcript is one call as displayed in the panel.
type Transcript struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	AgentName string    `json:"agent_name,omitempty"`
	Duration  string    `json:"duration"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Summary   string    `json:"summary,omitempty"`
	Content   string    `json:"content,omitempty"`
}

// FormatDuration renders a duration in milliseconds as "Xm Ys", omitting the
// minutes component when it is zero. Non-positive inputs render as "0s".
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	total := ms / 1000
	minutes := total / 60
	seconds := total % 60
	if minutes == 0 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// statusFor maps the provider's call status onto the panel status. Only the
// terminal "ended" value counts as completed.
func statusFor(raw string) Status {
	if raw == calls.CallStatusEnded {
		return StatusCompleted
	}
	return StatusInProgress
}

// topicFor picks the display topic from the call summary, falling back to
// "Call {id}" when the provider reports none.
func topicFor(c calls.Call) string {
	if c.Summary != "" {
		return c.Summary
	}
	return "Call " + c.ID
}

// JoinTurns renders transcript turns as display lines, one per turn. The
// agent role maps to "AI"; everything else is attributed to the user.
func JoinTurns(turns []calls.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "You"
		if t.Role == "agent" {
			speaker = "AI"
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// MapCall converts one raw call record into a Transcript. An error means the
// record is unusable and should be skipped, not that the batch failed.
func MapCall(c calls.Call) (Transcript, error) {
	if c.ID == "" {
		return Transcript{}, errors.New("transcript: call record without id")
	}
	return Transcript{
		ID:        c.ID,
		Topic:     topicFor(c),
		AgentName: c.AgentName,
		Duration:  FormatDuration(c.DurationMS),
		Status:    statusFor(c.Status),
		StartedAt: time.UnixMilli(c.StartTimestamp),
		Summary:   c.Summary,
		Content:   JoinTurns(c.Transcript),
	}, nil
}
