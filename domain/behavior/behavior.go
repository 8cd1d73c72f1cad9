// Package behavior provides the parametric usage model and its derivatives.
// All functions are pure and deterministic; the package holds no state.
package behavior

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ModelConstant is the fixed sum of the seven daily weights. The seventh
// weight is never fitted directly; it is always derived as
// ModelConstant minus the six free weights.
const ModelConstant = 0.25

// DaysPerWeek is the number of daily weights in the model.
const DaysPerWeek = 7

// FreeWeights is the number of independently fitted daily weights.
const FreeWeights = DaysPerWeek - 1

// DerivedDay is the weekday whose weight is derived rather than fitted.
// Weight indexing follows time.Weekday (0 = Sunday .. 6 = Saturday).
const DerivedDay = time.Saturday

// ErrDomain indicates an evaluation that would raise a nonpositive base to
// a fractional exponent. It is detected up front rather than allowed to
// propagate as NaN.
var ErrDomain = errors.New("behavior: nonpositive base for fractional power")

// Regime classifies how a user's unconstrained demand relates to a plan's
// quota, selecting which closed-form utility and usage formulas apply.
type Regime string

const (
	RegimeLight    Regime = "light"    // Demand fits inside the quota
	RegimeModerate Regime = "moderate" // Demand pinned exactly at the quota
	RegimeHeavy    Regime = "heavy"    // Demand exceeds the quota
)

// Params holds a user's fitted behavioral parameters (immutable value type).
// Weights are indexed by time.Weekday; the Saturday weight is derived, so
// only six weights are stored.
type Params struct {
	Weights [FreeWeights]float64 // Daily weights, Sunday..Friday
	Phi     float64              // Baseline marginal-utility price
	Alpha   float64              // Usage elasticity exponent, in (0,1)
}

// DerivedWeight returns the Saturday weight, ModelConstant minus the sum of
// the six free weights. Every consumer of the seventh weight must go
// through this derivation so the 6-vs-7 weight split cannot drift.
// This is a PURE function.
func (p Params) DerivedWeight() float64 {
	return DeriveWeight(p.Weights[:])
}

// DeriveWeight computes the derived weight from a slice of free weights.
func DeriveWeight(free []float64) float64 {
	sum := 0.0
	for _, w := range free {
		sum += w
	}
	return ModelConstant - sum
}

// AllWeights returns the full seven-day weight vector, Sunday..Saturday.
func (p Params) AllWeights() [DaysPerWeek]float64 {
	var all [DaysPerWeek]float64
	copy(all[:], p.Weights[:])
	all[DerivedDay] = p.DerivedWeight()
	return all
}

// WeightFor returns the weight for a given weekday.
func (p Params) WeightFor(day time.Weekday) float64 {
	if day == DerivedDay {
		return p.DerivedWeight()
	}
	return p.Weights[day]
}

// Validate checks the parameter invariants at the API boundary.
// Intermediate optimizer iterates are allowed to violate these; callers
// handing Params to the evaluator are not.
func (p Params) Validate() error {
	if p.Phi <= 0 {
		return fmt.Errorf("behavior: phi must be positive, got %g", p.Phi)
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("behavior: alpha must be in (0,1), got %g", p.Alpha)
	}
	for i, w := range p.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("behavior: weight %d must be nonnegative, got %g", i+1, w)
		}
	}
	if dw := p.DerivedWeight(); dw < 0 {
		return fmt.Errorf("behavior: derived weight is negative (%g); free weights exceed %g", dw, ModelConstant)
	}
	return nil
}

// ParamsStddev holds per-parameter standard deviations from resampling.
// Unlike Params it carries all seven weights: the derived weight has its
// own spread across resampled fits.
type ParamsStddev struct {
	Weights [DaysPerWeek]float64
	Phi     float64
	Alpha   float64
}

// EffectivePrice returns the marginal price of a unit of usage under a
// regime: phi alone when demand stays inside the quota, phi plus the
// overage rate once every marginal unit is billed.
func EffectivePrice(phi, overageRate float64, regime Regime) float64 {
	if regime == RegimeHeavy {
		return phi + overageRate
	}
	return phi
}

// Predict evaluates one day's optimal usage, (w/price)^(1/alpha).
// Returns ErrDomain when the base or price is nonpositive, since a
// fractional power of a nonpositive number is undefined.
// This is a PURE function.
func Predict(w, price, alpha float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: price %g", ErrDomain, price)
	}
	if w < 0 {
		return 0, fmt.Errorf("%w: weight %g", ErrDomain, w)
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, fmt.Errorf("behavior: alpha must be in (0,1), got %g", alpha)
	}
	if w == 0 {
		return 0, nil
	}
	return math.Pow(w/price, 1/alpha), nil
}

// PredictPartials holds the analytic partial derivatives of Predict with
// respect to the fitted parameters, used to assemble the fitter's Jacobian.
type PredictPartials struct {
	DWeight float64 // d usage / d w
	DPhi    float64 // d usage / d phi
	DAlpha  float64 // d usage / d alpha
}

// Partials evaluates the analytic derivatives of (w/price)^(1/alpha) at a
// point. The same domain guards as Predict apply; additionally w must be
// strictly positive because the alpha partial takes ln(w/price).
func Partials(w, price, alpha float64) (PredictPartials, error) {
	if price <= 0 || w <= 0 {
		return PredictPartials{}, fmt.Errorf("%w: weight %g over price %g", ErrDomain, w, price)
	}
	if alpha <= 0 || alpha >= 1 {
		return PredictPartials{}, fmt.Errorf("behavior: alpha must be in (0,1), got %g", alpha)
	}
	ratio := w / price
	usage := math.Pow(ratio, 1/alpha)
	base := math.Pow(ratio, 1/alpha-1)
	return PredictPartials{
		DWeight: base / (alpha * price),
		DPhi:    -base * w / (alpha * price * price),
		DAlpha:  -usage / (alpha * alpha) * math.Log(ratio),
	}, nil
}
