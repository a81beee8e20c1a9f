package transactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zeri-fi/radiodash/internal/store"
)

type fakeReader struct {
	rows    []store.Transaction
	rowsErr error
	users   map[int64]*store.User
	userErr error

	userLookups int
}

func (f *fakeReader) TransactionsByUser(_ context.Context, _ int64, _ int) ([]store.Transaction, error) {
	return f.rows, f.rowsErr
}

func (f *fakeReader) UserByID(_ context.Context, userID int64) (*store.User, error) {
	f.userLookups++
	if f.userErr != nil {
		return nil, f.userErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func sampleRecords() []Record {
	return []Record{
		{ID: 1, Type: "Shopping", Recipient: "Amazon"},
		{ID: 2, Type: "Food", Recipient: "DoorDash"},
		{ID: 3, Type: "Transfer", Recipient: "John Smith"},
		{ID: 4, Type: "Shopping", Recipient: "Best Buy"},
	}
}

func TestListShapesRecords(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := &fakeReader{
		rows: []store.Transaction{
			{ID: 1, UserID: 7, Amount: -299.99, Category: "Shopping", CreatedAt: now},
			{ID: 2, UserID: 7, Amount: 50, Category: "Received", CreatedAt: now.Add(-time.Hour)},
		},
		users: map[int64]*store.User{7: {ID: 7, FirstName: "Jane", LastName: "Doe"}},
	}
	h, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recs, err := h.List(context.Background(), 7, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}

	first := recs[0]
	if first.Icon != "shopping-bag" || first.Gradient != "blue-indigo" {
		t.Errorf("shopping keys = %q/%q", first.Icon, first.Gradient)
	}
	if first.Status != StatusCompleted || first.Colour != "emerald" {
		t.Errorf("status = %q colour = %q", first.Status, first.Colour)
	}
	if first.Recipient != "Jane Doe" {
		t.Errorf("recipient = %q, want Jane Doe", first.Recipient)
	}
	if r.userLookups != 1 {
		t.Errorf("user lookups = %d, want 1 (cached per user)", r.userLookups)
	}
}

func TestListUnknownCategoryFallsBackNeutral(t *testing.T) {
	t.Parallel()

	r := &fakeReader{
		rows:  []store.Transaction{{ID: 1, UserID: 7, Category: "Mystery"}},
		users: map[int64]*store.User{7: {ID: 7, FirstName: "Jane"}},
	}
	h, _ := New(r)

	recs, err := h.List(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if recs[0].Icon != defaultIcon {
		t.Errorf("icon = %q, want %q", recs[0].Icon, defaultIcon)
	}
	if recs[0].Gradient != defaultGradient {
		t.Errorf("gradient = %q, want %q", recs[0].Gradient, defaultGradient)
	}
}

func TestListNameLookupFailureKeepsRow(t *testing.T) {
	t.Parallel()

	r := &fakeReader{
		rows:    []store.Transaction{{ID: 1, UserID: 7, Category: "Food"}},
		userErr: errors.New("db down"),
	}
	h, _ := New(r)

	recs, err := h.List(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1; lookup failure must not drop the row", len(recs))
	}
	if recs[0].Recipient != "" {
		t.Errorf("recipient = %q, want empty", recs[0].Recipient)
	}
}

func TestListPropagatesRowError(t *testing.T) {
	t.Parallel()

	h, _ := New(&fakeReader{rowsErr: errors.New("db down")})
	if _, err := h.List(context.Background(), 7, 0); err == nil {
		t.Fatal("expected error from failing reader")
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()

	got := Categories(sampleRecords())
	want := []string{"Shopping", "Food", "Transfer"}
	if len(got) != len(want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("categories[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFilterCategory(t *testing.T) {
	t.Parallel()

	got := FilterCategory(sampleRecords(), "Shopping")
	if len(got) != 2 {
		t.Fatalf("filtered = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.Type != "Shopping" {
			t.Errorf("unexpected record %+v", r)
		}
	}

	if got := FilterCategory(sampleRecords(), ""); len(got) != 4 {
		t.Errorf("empty category filtered = %d, want all 4", len(got))
	}
}

func TestSearchSubstring(t *testing.T) {
	t.Parallel()

	got := Search(sampleRecords(), "door")
	if len(got) != 1 || got[0].Recipient != "DoorDash" {
		t.Errorf("search door = %+v", got)
	}

	got = Search(sampleRecords(), "shopping")
	if len(got) != 2 {
		t.Errorf("search shopping = %d records, want 2", len(got))
	}
}

func TestSearchFuzzy(t *testing.T) {
	t.Parallel()

	// "amzon" is not a substring of anything but sits above the
	// Jaro-Winkler threshold against "amazon".
	got := Search(sampleRecords(), "amzon")
	if len(got) != 1 || got[0].Recipient != "Amazon" {
		t.Errorf("fuzzy search amzon = %+v", got)
	}

	if got := Search(sampleRecords(), "zzqx"); len(got) != 0 {
		t.Errorf("nonsense query matched %+v", got)
	}
}

func TestSearchEmptyQueryKeepsAll(t *testing.T) {
	t.Parallel()

	if got := Search(sampleRecords(), "  "); len(got) != 4 {
		t.Errorf("blank query = %d records, want all 4", len(got))
	}
}
