// Package server exposes the dashboard HTTP API: auth, wallet, transaction
// history, voice-banking operations, and the call-transcript panel backed
// by the live sync engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeri-fi/radiodash/internal/health"
	"github.com/zeri-fi/radiodash/internal/observe"
	"github.com/zeri-fi/radiodash/internal/store"
	"github.com/zeri-fi/radiodash/internal/transactions"
	"github.com/zeri-fi/radiodash/internal/transcript"
	"github.com/zeri-fi/radiodash/internal/wallet"
	"github.com/zeri-fi/radiodash/pkg/provider/auth"
	"github.com/zeri-fi/radiodash/pkg/provider/calls"
)

// WalletService is the wallet panel surface the server exposes.
type WalletService interface {
	Summary(ctx context.Context, userID int64) (*wallet.Summary, error)
	Market() []wallet.Quote
}

// HistoryService is the transaction history surface.
type HistoryService interface {
	List(ctx context.Context, userID int64, limit int) ([]transactions.Record, error)
}

// TranscriptService is the transcripts panel surface.
type TranscriptService interface {
	Snapshot() transcript.State
	RawEvent(callID string) (calls.LiveEvent, bool)
	ConnectCallSocket(ctx context.Context, callID string) error
	Refresh(ctx context.Context)
}

// FollowUpService is the follow-up chat surface.
type FollowUpService interface {
	Start(transcriptID string)
	Send(ctx context.Context, transcriptID, text string)
	Thread(transcriptID string) (lines []string, loading bool)
}

// Bank is the slice of the row store the voice-banking routes use.
type Bank interface {
	Balance(ctx context.Context, userID int64) (float64, error)
	Transfer(ctx context.Context, fromUser, toUser int64, amount float64) error
	VerifyPIN(ctx context.Context, userID int64, pin int) (bool, error)
	LoansByUser(ctx context.Context, userID int64) ([]store.Loan, error)
}

// Registrar adds routes to a mux. Satisfied by the analytics service and
// the gateway, both optional.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithAnalytics mounts the analytics endpoints.
func WithAnalytics(r Registrar) Option {
	return func(s *Server) { s.analytics = r }
}

// WithGateway mounts the inbound call gateway endpoints.
func WithGateway(r Registrar) Option {
	return func(s *Server) { s.gateway = r }
}

// WithHealth sets the health handler. Defaults to an empty handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server holds the dashboard API dependencies and builds its handler.
type Server struct {
	auth      auth.Provider
	wallet    WalletService
	history   HistoryService
	syncer    TranscriptService
	followUps FollowUpService
	bank      Bank

	analytics Registrar
	gateway   Registrar
	health    *health.Handler
	log       *slog.Logger
}

// New creates a Server. All non-option dependencies are required.
func New(authp auth.Provider, w WalletService, h HistoryService, t TranscriptService, f FollowUpService, b Bank, opts ...Option) (*Server, error) {
	var errs []error
	if authp == nil {
		errs = append(errs, fmt.Errorf("server: auth provider is required"))
	}
	if w == nil {
		errs = append(errs, fmt.Errorf("server: wallet service is required"))
	}
	if h == nil {
		errs = append(errs, fmt.Errorf("server: history service is required"))
	}
	if t == nil {
		errs = append(errs, fmt.Errorf("server: transcript service is required"))
	}
	if f == nil {
		errs = append(errs, fmt.Errorf("server: follow-up service is required"))
	}
	if b == nil {
		errs = append(errs, fmt.Errorf("server: bank is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Server{
		auth:      authp,
		wallet:    w,
		history:   h,
		syncer:    t,
		followUps: f,
		bank:      b,
		health:    health.New(),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Handler builds the full route table wrapped in the tracing middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /auth/signout", s.handleSignOut)
	mux.HandleFunc("GET /auth/session", s.handleSession)

	mux.HandleFunc("GET /market", s.handleMarket)
	mux.Handle("GET /wallet/{user_id}", s.gated(s.handleWallet))
	mux.Handle("GET /transactions/{user_id}", s.gated(s.handleHistory))
	mux.Handle("GET /loans/{user_id}", s.gated(s.handleLoans))

	mux.HandleFunc("POST /transactions/balance", s.handleBalance)
	mux.HandleFunc("POST /transactions/transfer", s.handleTransfer)
	mux.HandleFunc("POST /user/balance", s.handlePINBalance)

	mux.Handle("GET /transcripts", s.gated(s.handleTranscripts))
	mux.Handle("POST /transcripts/refresh", s.gated(s.handleTranscriptsRefresh))
	mux.Handle("GET /transcripts/{id}/raw", s.gated(s.handleTranscriptRaw))
	mux.Handle("POST /transcripts/{id}/connect", s.gated(s.handleTranscriptConnect))
	mux.Handle("GET /transcripts/{id}/followup", s.gated(s.handleFollowUpThread))
	mux.Handle("POST /transcripts/{id}/followup", s.gated(s.handleFollowUpSend))

	if s.analytics != nil {
		s.analytics.Register(mux)
	}
	if s.gateway != nil {
		s.gateway.Register(mux)
	}

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// gated rejects requests whose bearer credential does not match the active
// session.
func (s *Server) gated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.auth.Session(r.Context())
		if err != nil {
			if errors.Is(err, auth.ErrNoSession) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			s.log.Error("server: session check failed", "err", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if bearerToken(r) != sess.AccessToken {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	})
}

// bearerToken extracts the Authorization bearer credential, or "" when the
// header is absent or malformed.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	metadata := map[string]any{}
	if req.FullName != "" {
		metadata["full_name"] = req.FullName
	}
	if req.Phone != "" {
		metadata["phone"] = req.Phone
	}

	sess, err := s.auth.SignUp(r.Context(), req.Email, req.Password, metadata)
	if err != nil {
		s.log.Warn("server: sign-up failed", "err", err)
		writeError(w, http.StatusBadGateway, "sign-up failed")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.log.Warn("server: sign-in failed", "err", err)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.SignOut(r.Context()); err != nil {
		s.log.Warn("server: sign-out failed", "err", err)
		writeError(w, http.StatusBadGateway, "sign-out failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.auth.Session(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			writeError(w, http.StatusUnauthorized, "no active session")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"quotes": s.wallet.Market()})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	summary, err := s.wallet.Summary(r.Context(), userID)
	if err != nil {
		s.log.Error("server: wallet summary failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.history.List(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("server: history failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	categories := transactions.Categories(records)
	records = transactions.FilterCategory(records, r.URL.Query().Get("category"))
	records = transactions.Search(records, r.URL.Query().Get("q"))

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": records,
		"categories":   categories,
	})
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	loans, err := s.bank.LoansByUser(r.Context(), userID)
	if err != nil {
		s.log.Error("server: loans failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if len(loans) == 0 {
		writeError(w, http.StatusNotFound, "No loans found for this user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": loans})
}

// argsRequest is the nested envelope the voice-agent tooling posts.
type argsRequest struct {
	Args struct {
		UserID   int64   `json:"user_id"`
		FromUser int64   `json:"from_user"`
		ToUser   int64   `json:"to_user"`
		Amount   float64 `json:"amount"`
		PIN      int     `json:"pin"`
	} `json:"args"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var req argsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusUnprocessableEntity, resultError("Validation error", "invalid request body"))
		return
	}

	balance, err := s.bank.Balance(r.Context(), req.Args.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeResult(w, http.StatusNotFound, resultError("Not found", "No accounts for this user"))
			return
		}
		s.log.Error("server: balance failed", "user_id", req.Args.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeResult(w, http.StatusOK, map[string]any{
		"message": "Balance retrieved",
		"data":    map[string]float64{"balance": balance},
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req argsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusUnprocessableEntity, resultError("Validation error", "invalid request body"))
		return
	}
	if req.Args.Amount <= 0 {
		writeResult(w, http.StatusUnprocessableEntity, resultError("Validation error", "amount must be positive"))
		return
	}

	err := s.bank.Transfer(r.Context(), req.Args.FromUser, req.Args.ToUser, req.Args.Amount)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeResult(w, http.StatusNotFound, resultError("Not found", "One or both users not found"))
	case errors.Is(err, store.ErrInsufficientFunds):
		writeResult(w, http.StatusBadRequest, resultError("Insufficient funds", "Sender has insufficient balance"))
	case err != nil:
		s.log.Error("server: transfer failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		writeResult(w, http.StatusOK, map[string]any{
			"message": "Transfer successful",
			"data": map[string]any{
				"from_user": req.Args.FromUser,
				"to_user":   req.Args.ToUser,
				"amount":    req.Args.Amount,
			},
		})
	}
}

func (s *Server) handlePINBalance(w http.ResponseWriter, r *http.Request) {
	var req argsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusUnprocessableEntity, resultError("Validation error", "invalid request body"))
		return
	}

	ok, err := s.bank.VerifyPIN(r.Context(), req.Args.UserID, req.Args.PIN)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeResult(w, http.StatusNotFound, resultError("Not found", "No such user"))
			return
		}
		s.log.Error("server: pin check failed", "user_id", req.Args.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid PIN")
		return
	}

	balance, err := s.bank.Balance(r.Context(), req.Args.UserID)
	if err != nil {
		s.log.Error("server: balance failed", "user_id", req.Args.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeResult(w, http.StatusOK, map[string]any{
		"message": "Balance retrieved",
		"data":    map[string]float64{"balance": balance},
	})
}

func (s *Server) handleTranscripts(w http.ResponseWriter, _ *http.Request) {
	state := s.syncer.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts":        state.Transcripts,
		"error":              state.Err,
		"loading":            state.Loading,
		"live_transcription": state.LiveTranscription,
	})
}

func (s *Server) handleTranscriptsRefresh(w http.ResponseWriter, r *http.Request) {
	s.syncer.Refresh(r.Context())
	s.handleTranscripts(w, r)
}

func (s *Server) handleTranscriptRaw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	evt, ok := s.syncer.RawEvent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no live event for this call")
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) handleTranscriptConnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.syncer.ConnectCallSocket(r.Context(), id); err != nil {
		s.log.Warn("server: call socket connect failed", "call_id", id, "err", err)
		writeError(w, http.StatusBadGateway, "could not attach to the live call")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleFollowUpThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.followUps.Start(id)
	lines, loading := s.followUps.Thread(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": lines,
		"loading":  loading,
	})
}

func (s *Server) handleFollowUpSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.followUps.Send(r.Context(), id, req.Message)
	lines, loading := s.followUps.Thread(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": lines,
		"loading":  loading,
	})
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func resultError(code, message string) map[string]string {
	return map[string]string{"error": code, "message": message}
}

// writeResult wraps v in the result envelope the voice-agent tooling
// expects.
func writeResult(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"result": v})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
