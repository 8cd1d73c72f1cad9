// Package plan provides data-plan value types and pure functions.
package plan

import (
	"fmt"
	"math"
)

// Plan represents a mobile data plan's commercial terms (immutable value
// type). Quota and overage are in the same usage unit as the subscriber's
// history (typically GB); prices are in the operator's currency.
type Plan struct {
	Name        string
	Description string
	Quota       float64 // Monthly allowance; +Inf = unlimited
	OverageRate float64 // Price per unit beyond the quota
	Price       float64 // Flat monthly price
}

// Unlimited reports whether the plan has no usage cap.
func (p Plan) Unlimited() bool {
	return math.IsInf(p.Quota, 1)
}

// Validate rejects plans with negative or non-finite terms.
func (p Plan) Validate() error {
	if p.Quota < 0 || math.IsNaN(p.Quota) {
		return fmt.Errorf("plan %q: quota must be nonnegative, got %g", p.Name, p.Quota)
	}
	if p.OverageRate < 0 || math.IsNaN(p.OverageRate) || math.IsInf(p.OverageRate, 0) {
		return fmt.Errorf("plan %q: overage rate must be a nonnegative number, got %g", p.Name, p.OverageRate)
	}
	if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return fmt.Errorf("plan %q: price must be a nonnegative number, got %g", p.Name, p.Price)
	}
	return nil
}

// Find returns the first plan with the given name.
// This is a PURE function.
func Find(plans []Plan, name string) (Plan, bool) {
	for _, p := range plans {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}
