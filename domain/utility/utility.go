// Package utility evaluates the closed-form monthly utility and optimal
// usage allocation of a (user, plan) pair. All functions are pure.
//
// Classification is the single source of truth for which formula branch
// applies; every other function in the package routes through Classify
// rather than re-deriving the regime.
package utility

import (
	"math"

	"github.com/planwise/planwise/domain/behavior"
	"github.com/planwise/planwise/domain/plan"
)

// LightDemand is the total weekly usage a user would choose with no quota
// pressure at all: sum over the seven weights of (w/phi)^(1/alpha).
func LightDemand(p behavior.Params) float64 {
	return demand(p, p.Phi)
}

// HeavyDemand is the total weekly usage a user would choose when every
// marginal unit is billed at phi plus the overage rate. It never exceeds
// LightDemand while the overage rate is nonnegative, which keeps the three
// regimes mutually exclusive.
func HeavyDemand(p behavior.Params, overageRate float64) float64 {
	return demand(p, p.Phi+overageRate)
}

func demand(p behavior.Params, price float64) float64 {
	sum := 0.0
	for _, w := range p.AllWeights() {
		sum += math.Pow(w/price, 1/p.Alpha)
	}
	return sum
}

// Classify determines the usage regime of a (user, plan) pair: Light when
// the quota exceeds unconstrained demand, Heavy when even overage-priced
// demand exceeds the quota, Moderate in between. Recomputed on every
// evaluation, never cached across plans.
func Classify(p behavior.Params, pl plan.Plan) (behavior.Regime, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := pl.Validate(); err != nil {
		return "", err
	}
	if pl.Quota > LightDemand(p) {
		return behavior.RegimeLight, nil
	}
	if pl.Quota < HeavyDemand(p, pl.OverageRate) {
		return behavior.RegimeHeavy, nil
	}
	return behavior.RegimeModerate, nil
}

// Utility computes the monthly utility of a plan for a user, in the plan's
// currency. The three branches agree at the regime boundaries, so utility
// is continuous in the quota.
func Utility(p behavior.Params, pl plan.Plan) (float64, error) {
	regime, err := Classify(p, pl)
	if err != nil {
		return 0, err
	}
	return UtilityIn(regime, p, pl), nil
}

// UtilityIn evaluates the closed-form utility for an already-classified
// regime. Callers that need both the regime and the utility classify once
// and pass the regime here instead of re-deriving it.
func UtilityIn(regime behavior.Regime, p behavior.Params, pl plan.Plan) float64 {
	alpha := p.Alpha
	weights := p.AllWeights()

	switch regime {
	case behavior.RegimeModerate:
		// Usage is pinned at the quota and allocated proportionally to
		// w^(1/alpha); the surplus folds into S^alpha * A^(1-alpha).
		// This branch meets the Light branch at quota == light demand and
		// the Heavy branch at quota == heavy demand, keeping utility
		// continuous in the quota.
		s := 0.0
		for _, w := range weights {
			s += math.Pow(w, 1/alpha)
		}
		return math.Pow(s, alpha)*math.Pow(pl.Quota, 1-alpha)/(1-alpha) -
			p.Phi*pl.Quota - pl.Price

	case behavior.RegimeHeavy:
		// Every marginal unit costs phi plus the overage rate; the quota
		// itself is overage-free, which adds the overage*quota rebate.
		u := 0.0
		price := p.Phi + pl.OverageRate
		for _, w := range weights {
			u += (alpha / (1 - alpha)) * math.Pow(w, 1/alpha) * math.Pow(price, 1-1/alpha)
		}
		return u + pl.OverageRate*pl.Quota - pl.Price

	default: // Light
		u := 0.0
		for _, w := range weights {
			u += (alpha / (1 - alpha)) * math.Pow(w, 1/alpha) * math.Pow(p.Phi, 1-1/alpha)
		}
		return u - pl.Price
	}
}

// OptimalUsage returns the per-day usage a rational user would choose under
// the plan's pricing, one value per weekday in time.Weekday order. In the
// Moderate regime the fixed quota is allocated proportionally to
// w^(1/alpha), so the allocations sum to the quota exactly.
func OptimalUsage(p behavior.Params, pl plan.Plan) ([behavior.DaysPerWeek]float64, error) {
	var usages [behavior.DaysPerWeek]float64
	regime, err := Classify(p, pl)
	if err != nil {
		return usages, err
	}
	weights := p.AllWeights()

	switch regime {
	case behavior.RegimeLight, behavior.RegimeHeavy:
		price := behavior.EffectivePrice(p.Phi, pl.OverageRate, regime)
		for i, w := range weights {
			u, err := behavior.Predict(w, price, p.Alpha)
			if err != nil {
				return usages, err
			}
			usages[i] = u
		}
	case behavior.RegimeModerate:
		sum := 0.0
		for _, w := range weights {
			sum += math.Pow(w, 1/p.Alpha)
		}
		for i, w := range weights {
			usages[i] = pl.Quota * math.Pow(w, 1/p.Alpha) / sum
		}
	}
	return usages, nil
}

// Profit computes the operator's profit from offering a plan to a user
// population, where unitCost is the operator's marginal cost per usage
// unit. Light users pay the flat price, heavy users add overage charges,
// moderate users sit exactly at the quota.
func Profit(pl plan.Plan, unitCost float64, users []behavior.Params) (float64, error) {
	profit := 0.0
	for _, p := range users {
		regime, err := Classify(p, pl)
		if err != nil {
			return 0, err
		}
		switch regime {
		case behavior.RegimeLight:
			profit += pl.Price - unitCost*LightDemand(p)
		case behavior.RegimeHeavy:
			used := HeavyDemand(p, pl.OverageRate)
			profit += pl.Price + pl.OverageRate*(used-pl.Quota) - unitCost*used
		case behavior.RegimeModerate:
			profit += pl.Price - unitCost*pl.Quota
		}
	}
	return profit, nil
}
