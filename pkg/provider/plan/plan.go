// Package plan defines the interface to the spending-plan analytics
// endpoint and the display formatting for its result.
package plan

import (
	"context"
	"fmt"
	"strings"
)

// Plan is the structured monthly spending plan produced by the analytics
// service for one user.
type Plan struct {
	Summary       string  `json:"spending_plan_summary"`
	Housing       float64 `json:"housing_amount"`
	Food          float64 `json:"food_amount"`
	Shopping      float64 `json:"shopping_amount"`
	Entertainment float64 `json:"entertainment_amount"`
	Saving        float64 `json:"saving_amount"`
}

// Planner computes a spending plan for a user.
type Planner interface {
	SpendingPlan(ctx context.Context, userID int) (*Plan, error)
}

// Format renders the plan as the multi-line summary shown in follow-up
// chats.
func (p *Plan) Format() string {
	var b strings.Builder
	if p.Summary != "" {
		b.WriteString(p.Summary)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Housing: $%.2f/mo\n", p.Housing)
	fmt.Fprintf(&b, "Food: $%.2f/mo\n", p.Food)
	fmt.Fprintf(&b, "Shopping: $%.2f/mo\n", p.Shopping)
	fmt.Fprintf(&b, "Entertainment: $%.2f/mo\n", p.Entertainment)
	fmt.Fprintf(&b, "Saving: $%.2f/mo", p.Saving)
	return b.String()
}
