// Package wallet builds the dashboard wallet summary from account rows:
// per-currency balances, a USD total converted through a static rate table,
// and a market snapshot for the ticker strip.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/zeri-fi/radiodash/internal/store"
)

// usdRates converts one unit of a currency into USD. The table is static;
// pricing accuracy is out of scope for the dashboard.
var usdRates = map[string]float64{
	"USD": 1,
	"KES": 0.0078,
	"BTC": 65432.10,
	"ETH": 3211.45,
	"SOL": 123.45,
}

// RateUSD returns the USD conversion rate for currency. Unknown currencies
// convert at 1 so a bad label never zeroes a balance out of the total.
func RateUSD(currency string) float64 {
	if r, ok := usdRates[currency]; ok {
		return r
	}
	return 1
}

// Balance is the aggregate position in one currency.
type Balance struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	USD      float64 `json:"usd"`
	Accounts int     `json:"accounts"`
}

// Summary is the wallet panel payload.
type Summary struct {
	Balances []Balance `json:"balances"`
	TotalUSD float64   `json:"total_usd"`
}

// Quote is one market ticker entry.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h"`
	Volume    string  `json:"volume"`
}

// marketSnapshot is the static quote set served to the ticker. Values are
// illustrative; see usdRates.
var marketSnapshot = []Quote{
	{Symbol: "BTC", Name: "Bitcoin", PriceUSD: 65432.10, Change24h: 2.5, Volume: "24.5B"},
	{Symbol: "ETH", Name: "Ethereum", PriceUSD: 3211.45, Change24h: -1.2, Volume: "12.8B"},
	{Symbol: "BNB", Name: "BNB", PriceUSD: 432.78, Change24h: 0.8, Volume: "5.6B"},
	{Symbol: "SOL", Name: "Solana", PriceUSD: 123.45, Change24h: 5.6, Volume: "4.2B"},
	{Symbol: "XRP", Name: "Ripple", PriceUSD: 0.5678, Change24h: -0.7, Volume: "3.1B"},
}

// Accounts is the slice of the row store the wallet reads.
type Accounts interface {
	AccountsByUser(ctx context.Context, userID int64) ([]store.Account, error)
}

// Option is a functional option for configuring the Wallet.
type Option func(*Wallet)

// WithCurrencyFor overrides how an account row is assigned a currency.
// The default labels every account USD; the ledger does not carry a
// currency column.
func WithCurrencyFor(fn func(store.Account) string) Option {
	return func(w *Wallet) { w.currencyFor = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(w *Wallet) { w.log = l }
}

// Wallet assembles wallet summaries and market snapshots.
type Wallet struct {
	accounts    Accounts
	currencyFor func(store.Account) string
	log         *slog.Logger
}

// New creates a Wallet over the given account reader.
func New(accounts Accounts, opts ...Option) (*Wallet, error) {
	if accounts == nil {
		return nil, fmt.Errorf("wallet: account reader is required")
	}
	w := &Wallet{
		accounts:    accounts,
		currencyFor: func(store.Account) string { return "USD" },
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Summary aggregates the user's accounts into per-currency balances and a
// converted USD total.
func (w *Wallet) Summary(ctx context.Context, userID int64) (*Summary, error) {
	accts, err := w.accounts.AccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("wallet: list accounts: %w", err)
	}

	byCurrency := make(map[string]*Balance)
	for _, a := range accts {
		cur := w.currencyFor(a)
		b, ok := byCurrency[cur]
		if !ok {
			b = &Balance{Currency: cur}
			byCurrency[cur] = b
		}
		b.Amount += a.Balance
		b.Accounts++
	}

	s := &Summary{Balances: make([]Balance, 0, len(byCurrency))}
	for _, b := range byCurrency {
		b.USD = b.Amount * RateUSD(b.Currency)
		s.TotalUSD += b.USD
		s.Balances = append(s.Balances, *b)
	}
	sort.Slice(s.Balances, func(i, j int) bool {
		return s.Balances[i].Currency < s.Balances[j].Currency
	})
	return s, nil
}

// Market returns the current ticker snapshot.
func (w *Wallet) Market() []Quote {
	out := make([]Quote, len(marketSnapshot))
	copy(out, marketSnapshot)
	return out
}

// StreamMarket emits a snapshot immediately and then on every interval tick
// until ctx is cancelled. The returned channel is closed on cancellation.
func (w *Wallet) StreamMarket(ctx context.Context, interval time.Duration) <-chan []Quote {
	ch := make(chan []Quote, 1)
	ch <- w.Market()

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- w.Market():
				default:
					// A stalled consumer skips a tick rather than
					// blocking the stream.
				}
			}
		}
	}()
	return ch
}
