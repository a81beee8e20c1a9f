package transcript

import (
	"testing"
	"time"

	"github.com/zeri-fi/radiodash/pkg/provider/calls"
)

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0s"},
		{-100, "0s"},
		{500, "0s"},
		{5000, "5s"},
		{59999, "59s"},
		{60000, "1m 0s"},
		{65000, "1m 5s"},
		{3599000, "59m 59s"},
		{3600000, "60m 0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Status
	}{
		{"ended", StatusCompleted},
		{"ongoing", StatusInProgress},
		{"registered", StatusInProgress},
		{"", StatusInProgress},
		{"ENDED", StatusInProgress},
	}
	for _, tt := range tests {
		tr, err := MapCall(calls.Call{ID: "c1", Status: tt.raw})
		if err != nil {
			t.Fatalf("MapCall(%q): %v", tt.raw, err)
		}
		if tr.Status != tt.want {
			t.Errorf("status for %q = %q, want %q", tt.raw, tr.Status, tt.want)
		}
	}
}

func TestTopicPrefersSummary(t *testing.T) {
	t.Parallel()

	tr, err := MapCall(calls.Call{ID: "abc123"})
	if err != nil {
		t.Fatalf("MapCall: %v", err)
	}
	if tr.Topic != "Call abc123" {
		t.Errorf("topic = %q, want %q", tr.Topic, "Call abc123")
	}

	// The summary is the topic even when an agent name is present; the agent
	// name rides along as its own field.
	tr, err = MapCall(calls.Call{ID: "abc123", AgentName: "Aria", Summary: "Disputed card charge"})
	if err != nil {
		t.Fatalf("MapCall: %v", err)
	}
	if tr.Topic != "Disputed card charge" {
		t.Errorf("topic = %q, want %q", tr.Topic, "Disputed card charge")
	}
	if tr.AgentName != "Aria" {
		t.Errorf("agent name = %q, want %q", tr.AgentName, "Aria")
	}

	// An agent name alone does not become the topic.
	tr, err = MapCall(calls.Call{ID: "abc123", AgentName: "Aria"})
	if err != nil {
		t.Fatalf("MapCall: %v", err)
	}
	if tr.Topic != "Call abc123" {
		t.Errorf("topic = %q, want %q", tr.Topic, "Call abc123")
	}
}

func TestJoinTurns(t *testing.T) {
	t.Parallel()

	got := JoinTurns([]calls.Turn{
		{Role: "agent", Content: "How can I help?"},
		{Role: "user", Content: "Check my balance."},
		{Role: "something-else", Content: "noise"},
	})
	want := "AI: How can I help?\nYou: Check my balance.\nYou: noise"
	if got != want {
		t.Errorf("JoinTurns = %q, want %q", got, want)
	}

	if got := JoinTurns(nil); got != "" {
		t.Errorf("JoinTurns(nil) = %q, want empty", got)
	}
}

func TestMapCall(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(-2 * time.Minute).UnixMilli()
	tr, err := MapCall(calls.Call{
		ID:             "c42",
		AgentName:      "Aria",
		StartTimestamp: start,
		DurationMS:     65000,
		Status:         "ended",
		Summary:        "Discussed budget.",
		Transcript: []calls.Turn{
			{Role: "agent", Content: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("MapCall: %v", err)
	}
	if tr.Duration != "1m 5s" {
		t.Errorf("duration = %q", tr.Duration)
	}
	if tr.Status != StatusCompleted {
		t.Errorf("status = %q", tr.Status)
	}
	if tr.Content != "AI: Hello" {
		t.Errorf("content = %q", tr.Content)
	}
	if tr.Topic != "Discussed budget." {
		t.Errorf("topic = %q", tr.Topic)
	}
	if tr.StartedAt.UnixMilli() != start {
		t.Errorf("started_at = %v", tr.StartedAt)
	}
}

func TestMapCallRejectsMissingID(t *testing.T) {
	t.Parallel()

	if _, err := MapCall(calls.Call{}); err == nil {
		t.Fatal("expected error for record without id")
	}
}
