// Package analytics generates spending insights from the banking tables
// through an LLM: a structured monthly spending plan and a short habits
// summary, exposed both as a [plan.Planner] and as HTTP endpoints.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/zeri-fi/radiodash/internal/observe"
	"github.com/zeri-fi/radiodash/internal/store"
	"github.com/zeri-fi/radiodash/pkg/provider/plan"
)

// ErrUserNotFound reports that the requested user has no row.
var ErrUserNotFound = errors.New("analytics: user not found")

// ErrNoTransactions reports that the user has no ledger rows to analyze.
var ErrNoTransactions = errors.New("analytics: no transactions")

// ErrBadCompletion reports that the model reply was not the JSON object the
// prompt asked for.
var ErrBadCompletion = errors.New("analytics: invalid completion format")

// Reader is the slice of the row store analytics reads.
type Reader interface {
	UserByID(ctx context.Context, userID int64) (*store.User, error)
	TransactionsByUser(ctx context.Context, userID int64, limit int) ([]store.Transaction, error)
}

// Option is a functional option for configuring the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service computes spending analytics.
type Service struct {
	reader    Reader
	completer Completer
	metrics   *observe.Metrics
	log       *slog.Logger
}

var _ plan.Planner = (*Service)(nil)

// New creates a Service over the given row reader and completer.
func New(reader Reader, completer Completer, opts ...Option) (*Service, error) {
	var errs []error
	if reader == nil {
		errs = append(errs, fmt.Errorf("analytics: reader is required"))
	}
	if completer == nil {
		errs = append(errs, fmt.Errorf("analytics: completer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Service{
		reader:    reader,
		completer: completer,
		metrics:   observe.DefaultMetrics(),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SpendingPlan implements [plan.Planner]. It prompts the model with the
// user's profile and parses the reply into a structured plan.
func (s *Service) SpendingPlan(ctx context.Context, userID int) (*plan.Plan, error) {
	start := time.Now()
	defer func() {
		s.metrics.AnalyticsDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("operation", "spending_plan")))
	}()

	user, err := s.reader.UserByID(ctx, int64(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("analytics: load user: %w", err)
	}

	prompt := fmt.Sprintf("Based on the user info and standard good spending habits, "+
		"generate a spending amount for each category per month and a summary. "+
		"Your response must be a JSON object with keys: spending_plan_summary, "+
		"housing_amount, food_amount, shopping_amount, entertainment_amount, saving_amount.\n"+
		"USER %s", profileLine(user))

	raw, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "openai", "completion")
		return nil, fmt.Errorf("analytics: spending plan completion: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "openai", "completion", "ok")

	var p plan.Plan
	if err := json.Unmarshal([]byte(stripFence(raw)), &p); err != nil {
		s.log.Error("analytics: unparseable plan completion", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrBadCompletion, err)
	}
	return &p, nil
}

// SpendingHabits summarizes the user's recent transactions in two
// sentences.
func (s *Service) SpendingHabits(ctx context.Context, userID int) (string, error) {
	start := time.Now()
	defer func() {
		s.metrics.AnalyticsDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("operation", "spending_habits")))
	}()

	user, err := s.reader.UserByID(ctx, int64(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
		}
		return "", fmt.Errorf("analytics: load user: %w", err)
	}

	txs, err := s.reader.TransactionsByUser(ctx, int64(userID), 0)
	if err != nil {
		return "", fmt.Errorf("analytics: load transactions: %w", err)
	}
	if len(txs) == 0 {
		return "", fmt.Errorf("%w: user %d", ErrNoTransactions, userID)
	}

	var b strings.Builder
	for i, tx := range txs {
		fmt.Fprintf(&b, "transaction %d: amount: %v, category: %s\n", i, tx.Amount, tx.Category)
	}

	prompt := fmt.Sprintf("Analyze the following transactions and user info and "+
		"summarize spending habits in 2 sentences:\n USER %s \n TRANSACTIONS %s",
		profileLine(user), b.String())

	summary, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "openai", "completion")
		return "", fmt.Errorf("analytics: spending habits completion: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "openai", "completion", "ok")
	return summary, nil
}

// profileLine renders the profile fields the prompts condition on.
func profileLine(u *store.User) string {
	return fmt.Sprintf("- dependents: %d, credit_score: %d, income: %v, age: %d",
		u.Dependents, u.CreditScore, u.Income, u.Age)
}

// stripFence removes a Markdown code fence if the model wrapped its JSON in
// one.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// argsRequest is the request envelope of both analytics endpoints.
type argsRequest struct {
	Args struct {
		UserID int `json:"user_id"`
	} `json:"args"`
}

// Register adds the analytics routes to mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /analytics/spending_plan", s.handleSpendingPlan)
	mux.HandleFunc("POST /analytics/spending_habits", s.handleSpendingHabits)
}

func (s *Service) handleSpendingPlan(w http.ResponseWriter, r *http.Request) {
	var req argsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"result": resultError("Bad Request", "invalid request body"),
		})
		return
	}

	p, err := s.SpendingPlan(r.Context(), req.Args.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"result": resultError("Not Found", fmt.Sprintf("No user with ID: %d", req.Args.UserID)),
		})
	case errors.Is(err, ErrBadCompletion):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Invalid response format from AI",
		})
	case err != nil:
		s.log.Error("analytics: spending plan failed", "user_id", req.Args.UserID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Internal Server Error",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"plan": p})
	}
}

func (s *Service) handleSpendingHabits(w http.ResponseWriter, r *http.Request) {
	var req argsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"result": resultError("Bad Request", "invalid request body"),
		})
		return
	}

	summary, err := s.SpendingHabits(r.Context(), req.Args.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"result": resultError("Not Found", fmt.Sprintf("No user with ID: %d", req.Args.UserID)),
		})
	case errors.Is(err, ErrNoTransactions):
		// The voice agent treats an empty history as an answer, not a
		// failure.
		writeJSON(w, http.StatusOK, map[string]any{
			"result": resultError("No Transactions",
				fmt.Sprintf("No transactions found for user with ID: %d", req.Args.UserID)),
		})
	case err != nil:
		s.log.Error("analytics: spending habits failed", "user_id", req.Args.UserID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Internal Server Error",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"result": map[string]string{"summary": summary},
		})
	}
}

func resultError(code, message string) map[string]string {
	return map[string]string{"error": code, "message": message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
