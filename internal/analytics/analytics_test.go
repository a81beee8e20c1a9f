package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zeri-fi/radiodash/internal/store"
)

type fakeReader struct {
	user    *store.User
	userErr error
	rows    []store.Transaction
	rowsErr error
}

func (f *fakeReader) UserByID(_ context.Context, _ int64) (*store.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

func (f *fakeReader) TransactionsByUser(_ context.Context, _ int64, _ int) ([]store.Transaction, error) {
	return f.rows, f.rowsErr
}

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

const planJSON = `{
	"spending_plan_summary": "Keep saving steady.",
	"housing_amount": 1200,
	"food_amount": 400,
	"shopping_amount": 150,
	"entertainment_amount": 80,
	"saving_amount": 500
}`

func testUser() *store.User {
	return &store.User{ID: 7, Age: 34, Income: 72000, CreditScore: 710, Dependents: 2}
}

func TestSpendingPlanParsesCompletion(t *testing.T) {
	t.Parallel()

	c := &fakeCompleter{reply: planJSON}
	s, err := New(&fakeReader{user: testUser()}, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := s.SpendingPlan(context.Background(), 7)
	if err != nil {
		t.Fatalf("SpendingPlan: %v", err)
	}
	if p.Summary != "Keep saving steady." || p.Housing != 1200 || p.Saving != 500 {
		t.Errorf("plan = %+v", p)
	}

	prompt := c.prompts[0]
	for _, want := range []string{"spending_plan_summary", "credit_score: 710", "income: 72000"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSpendingPlanStripsCodeFence(t *testing.T) {
	t.Parallel()

	c := &fakeCompleter{reply: "```json\n" + planJSON + "\n```"}
	s, _ := New(&fakeReader{user: testUser()}, c)

	p, err := s.SpendingPlan(context.Background(), 7)
	if err != nil {
		t.Fatalf("SpendingPlan: %v", err)
	}
	if p.Housing != 1200 {
		t.Errorf("housing = %v", p.Housing)
	}
}

func TestSpendingPlanBadCompletion(t *testing.T) {
	t.Parallel()

	s, _ := New(&fakeReader{user: testUser()}, &fakeCompleter{reply: "not json at all"})

	_, err := s.SpendingPlan(context.Background(), 7)
	if !errors.Is(err, ErrBadCompletion) {
		t.Fatalf("err = %v, want ErrBadCompletion", err)
	}
}

func TestSpendingPlanUnknownUser(t *testing.T) {
	t.Parallel()

	s, _ := New(&fakeReader{userErr: store.ErrNotFound}, &fakeCompleter{reply: planJSON})

	_, err := s.SpendingPlan(context.Background(), 99)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestSpendingHabitsBuildsTransactionPrompt(t *testing.T) {
	t.Parallel()

	c := &fakeCompleter{reply: "Spends mostly on food. Saves little."}
	s, _ := New(&fakeReader{
		user: testUser(),
		rows: []store.Transaction{
			{Amount: -45.5, Category: "Food"},
			{Amount: -120, Category: "Shopping"},
		},
	}, c)

	summary, err := s.SpendingHabits(context.Background(), 7)
	if err != nil {
		t.Fatalf("SpendingHabits: %v", err)
	}
	if summary != "Spends mostly on food. Saves little." {
		t.Errorf("summary = %q", summary)
	}
	prompt := c.prompts[0]
	for _, want := range []string{"transaction 0", "category: Food", "transaction 1", "category: Shopping"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSpendingHabitsNoTransactions(t *testing.T) {
	t.Parallel()

	s, _ := New(&fakeReader{user: testUser()}, &fakeCompleter{reply: "x"})

	_, err := s.SpendingHabits(context.Background(), 7)
	if !errors.Is(err, ErrNoTransactions) {
		t.Fatalf("err = %v, want ErrNoTransactions", err)
	}
}

func newTestServer(t *testing.T, reader Reader, completer Completer) *httptest.Server {
	t.Helper()
	s, err := New(reader, completer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleSpendingPlanOK(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{user: testUser()}, &fakeCompleter{reply: planJSON})

	resp := postJSON(t, srv.URL+"/analytics/spending_plan", `{"args":{"user_id":7}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Plan struct {
			Summary string  `json:"spending_plan_summary"`
			Housing float64 `json:"housing_amount"`
		} `json:"plan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Plan.Housing != 1200 {
		t.Errorf("housing = %v", body.Plan.Housing)
	}
}

func TestHandleSpendingPlanUnknownUser(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{userErr: store.ErrNotFound}, &fakeCompleter{reply: planJSON})

	resp := postJSON(t, srv.URL+"/analytics/spending_plan", `{"args":{"user_id":99}}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	var body struct {
		Result struct {
			Error string `json:"error"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result.Error != "Not Found" {
		t.Errorf("result.error = %q", body.Result.Error)
	}
}

func TestHandleSpendingPlanBadCompletion(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{user: testUser()}, &fakeCompleter{reply: "nope"})

	resp := postJSON(t, srv.URL+"/analytics/spending_plan", `{"args":{"user_id":7}}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHandleSpendingHabitsNoTransactions(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeReader{user: testUser()}, &fakeCompleter{reply: "x"})

	resp := postJSON(t, srv.URL+"/analytics/spending_habits", `{"args":{"user_id":7}}`)
	// An empty history is a 200 with an error envelope, not a failure.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Result struct {
			Error string `json:"error"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result.Error != "No Transactions" {
		t.Errorf("result.error = %q", body.Result.Error)
	}
}

func TestHandleSpendingHabitsOK(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t,
		&fakeReader{user: testUser(), rows: []store.Transaction{{Amount: -10, Category: "Food"}}},
		&fakeCompleter{reply: "Two sentences here."})

	resp := postJSON(t, srv.URL+"/analytics/spending_habits", `{"args":{"user_id":7}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Result struct {
			Summary string `json:"summary"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result.Summary != "Two sentences here." {
		t.Errorf("summary = %q", body.Result.Summary)
	}
}
