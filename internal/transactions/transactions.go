// Package transactions shapes ledger rows into the display records the
// history panel renders: category icon and gradient keys, status colours,
// recipient names, and search over the result.
package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/zeri-fi/radiodash/internal/store"
)

// fuzzyThreshold is the minimum Jaro-Winkler score for a search token to
// count as a match when no substring hit is found.
const fuzzyThreshold = 0.85

// Status of a ledger row. Settled rows are all the store records; pending
// and failed exist for rows still moving through a transfer.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// icons maps a category to the panel's icon key.
var icons = map[string]string{
	"Swap":         "arrows-right-left",
	"Bill Payment": "credit-card",
	"Received":     "arrow-down",
	"Shopping":     "shopping-bag",
	"Food":         "shopping-bag",
	"Transfer":     "arrow-up",
}

// gradients maps a category to the panel's background gradient key.
var gradients = map[string]string{
	"Shopping":     "blue-indigo",
	"Food":         "emerald-teal",
	"Transfer":     "amber-orange",
	"Swap":         "violet-purple",
	"Bill Payment": "rose-pink",
	"Received":     "green-emerald",
}

// statusColours maps a status to its badge colour key.
var statusColours = map[Status]string{
	StatusCompleted: "emerald",
	StatusPending:   "amber",
	StatusFailed:    "red",
}

const (
	defaultIcon     = "credit-card"
	defaultGradient = "slate"
	defaultColour   = "gray"
)

// IconFor returns the icon key for a category, falling back to a neutral
// icon for categories the panel has no art for.
func IconFor(category string) string {
	if k, ok := icons[category]; ok {
		return k
	}
	return defaultIcon
}

// GradientFor returns the gradient key for a category.
func GradientFor(category string) string {
	if k, ok := gradients[category]; ok {
		return k
	}
	return defaultGradient
}

// ColourFor returns the badge colour key for a status.
func ColourFor(status Status) string {
	if k, ok := statusColours[status]; ok {
		return k
	}
	return defaultColour
}

// Record is one row of the history panel.
type Record struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`
	Recipient string    `json:"recipient,omitempty"`
	Icon      string    `json:"icon"`
	Gradient  string    `json:"gradient"`
	Colour    string    `json:"colour"`
}

// Reader is the slice of the row store the panel reads.
type Reader interface {
	TransactionsByUser(ctx context.Context, userID int64, limit int) ([]store.Transaction, error)
	UserByID(ctx context.Context, userID int64) (*store.User, error)
}

// Option is a functional option for configuring the History service.
type Option func(*History)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *History) { h.log = l }
}

// History reads ledger rows and shapes them for display.
type History struct {
	reader Reader
	log    *slog.Logger
}

// New creates a History service over the given reader.
func New(reader Reader, opts ...Option) (*History, error) {
	if reader == nil {
		return nil, fmt.Errorf("transactions: reader is required")
	}
	h := &History{reader: reader, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// List returns the user's most recent transactions as display records,
// newest first. limit <= 0 returns all rows.
func (h *History) List(ctx context.Context, userID int64, limit int) ([]Record, error) {
	rows, err := h.reader.TransactionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("transactions: list: %w", err)
	}

	names := make(map[int64]string)
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		name, ok := names[row.UserID]
		if !ok {
			name = h.resolveName(ctx, row.UserID)
			names[row.UserID] = name
		}
		out = append(out, Record{
			ID:        row.ID,
			Type:      row.Category,
			Amount:    row.Amount,
			Currency:  "USD",
			Date:      row.CreatedAt,
			Status:    StatusCompleted,
			Recipient: name,
			Icon:      IconFor(row.Category),
			Gradient:  GradientFor(row.Category),
			Colour:    ColourFor(StatusCompleted),
		})
	}
	return out, nil
}

// resolveName looks up the display name for a user id. A failed lookup
// costs the name, not the row.
func (h *History) resolveName(ctx context.Context, userID int64) string {
	u, err := h.reader.UserByID(ctx, userID)
	if err != nil {
		h.log.Warn("transactions: name lookup failed", "user_id", userID, "err", err)
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Categories returns the distinct transaction types present in records, in
// first-seen order.
func Categories(records []Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if r.Type == "" {
			continue
		}
		if _, ok := seen[r.Type]; ok {
			continue
		}
		seen[r.Type] = struct{}{}
		out = append(out, r.Type)
	}
	return out
}

// FilterCategory keeps only records of the given category. An empty
// category keeps everything.
func FilterCategory(records []Record, category string) []Record {
	if category == "" {
		return records
	}
	var out []Record
	for _, r := range records {
		if r.Type == category {
			out = append(out, r)
		}
	}
	return out
}

// Search keeps records whose type or recipient matches query. Substring
// matches win outright; otherwise each query token is compared against the
// record's tokens with Jaro-Winkler so near-misses like "amzon" still find
// "Amazon". An empty query keeps everything.
func Search(records []Record, query string) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return records
	}
	qTokens := strings.Fields(q)

	var out []Record
	for _, r := range records {
		if matchesQuery(r, q, qTokens) {
			out = append(out, r)
		}
	}
	return out
}

func matchesQuery(r Record, q string, qTokens []string) bool {
	haystack := strings.ToLower(r.Type + " " + r.Recipient)
	if strings.Contains(haystack, q) {
		return true
	}
	for _, qt := range qTokens {
		for _, ht := range strings.Fields(haystack) {
			if matchr.JaroWinkler(qt, ht, false) >= fuzzyThreshold {
				return true
			}
		}
	}
	return false
}
