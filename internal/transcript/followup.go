package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zeri-fi/radiodash/internal/observe"
	"github.com/zeri-fi/radiodash/pkg/provider/plan"
)

// Fixed lines used by follow-up threads.
const (
	followUpGreeting = "AI: Hi! Ask me anything about this call and your spending."
	followUpApology  = "AI: Sorry, I couldn't retrieve your spending plan right now. Please try again later."
)

// FollowUps owns the simulated follow-up chat threads, one per transcript id.
// Threads live only as long as the panel; they are never persisted.
type FollowUps struct {
	planner plan.Planner
	userID  int
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	threads map[string][]string
	loading map[string]bool
}

// FollowUpOption is a functional option for configuring FollowUps.
type FollowUpOption func(*FollowUps)

// WithFollowUpMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithFollowUpMetrics(m *observe.Metrics) FollowUpOption {
	return func(f *FollowUps) { f.metrics = m }
}

// WithFollowUpLogger sets the logger. Defaults to [slog.Default].
func WithFollowUpLogger(l *slog.Logger) FollowUpOption {
	return func(f *FollowUps) { f.log = l }
}

// NewFollowUps creates a FollowUps answering from the given planner on
// behalf of the demo user id.
func NewFollowUps(planner plan.Planner, userID int, opts ...FollowUpOption) *FollowUps {
	f := &FollowUps{
		planner: planner,
		userID:  userID,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		threads: make(map[string][]string),
		loading: make(map[string]bool),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Start creates the thread for transcriptID seeded with the synthetic
// greeting, if none exists yet. Idempotent.
func (f *FollowUps) Start(transcriptID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[transcriptID]; ok {
		return
	}
	f.threads[transcriptID] = []string{followUpGreeting}
}

// Send appends the user's line to the thread immediately, then asks the
// planner for a spending plan and appends the formatted answer. On any
// failure the apology line is appended instead; the failure never leaves the
// thread.
func (f *FollowUps) Send(ctx context.Context, transcriptID, text string) {
	f.Start(transcriptID)

	f.mu.Lock()
	f.threads[transcriptID] = append(f.threads[transcriptID], "You: "+text)
	f.loading[transcriptID] = true
	f.mu.Unlock()

	start := time.Now()
	defer func() {
		f.mu.Lock()
		f.loading[transcriptID] = false
		f.mu.Unlock()
		f.metrics.FollowUpDuration.Record(ctx, time.Since(start).Seconds())
	}()

	p, err := f.planner.SpendingPlan(ctx, f.userID)

	var reply string
	if err != nil {
		f.log.Warn("transcript: follow-up plan request failed", "transcript_id", transcriptID, "err", err)
		f.metrics.RecordProviderError(ctx, "planner", "spending_plan")
		reply = followUpApology
	} else {
		f.metrics.RecordProviderRequest(ctx, "planner", "spending_plan", "ok")
		reply = "AI: " + p.Format()
	}

	f.mu.Lock()
	f.threads[transcriptID] = append(f.threads[transcriptID], reply)
	f.mu.Unlock()
}

// Thread returns a copy of the lines for transcriptID and whether a request
// is in flight for it.
func (f *FollowUps) Thread(transcriptID string) (lines []string, loading bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.threads[transcriptID]
	lines = make([]string, len(src))
	copy(lines, src)
	return lines, f.loading[transcriptID]
}
