// Package fitting recovers behavioral parameters from an observed usage
// history by nonlinear least squares.
//
// The free parameter vector is [w_sun..w_fri, phi, alpha]; the Saturday
// weight is derived from the model constant and never fitted directly.
// The pricing regime is fixed for the whole series before optimization
// begins: a positive overage rate selects the heavy-user prediction
// branch, otherwise the light branch is used throughout. The fit does not
// re-classify per iteration.
package fitting

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/planwise/planwise/domain/behavior"
	"github.com/planwise/planwise/domain/usage"
	"github.com/planwise/planwise/solver/lm"
)

// Config holds the fitter's tunables. The initial guess values follow the
// calibration described in the underlying model: equal weights summing to
// the model constant, phi 0.01 and alpha 0.38.
type Config struct {
	InitPhi        float64
	InitAlpha      float64
	MaxIterations  int
	MaxEvaluations int
}

// DefaultConfig returns the fitter defaults.
func DefaultConfig() Config {
	return Config{
		InitPhi:        0.01,
		InitAlpha:      0.38,
		MaxIterations:  1000,
		MaxEvaluations: 10000,
	}
}

// Result is the outcome of a fit. Converged=false is a recoverable,
// reportable outcome, not an error: the caller may retry with a different
// initial guess or report the history as uncalibratable.
type Result struct {
	Params       behavior.Params
	Converged    bool
	ResidualNorm float64
	Iterations   int
}

const (
	nFree    = behavior.FreeWeights + 2 // six weights, phi, alpha
	idxPhi   = behavior.FreeWeights
	idxAlpha = behavior.FreeWeights + 1
)

// Fit recovers behavioral parameters from a usage history.
// Input validation failures (empty history, negative usage, negative
// overage) are errors; solver non-convergence is reported in the Result.
func Fit(h usage.History, overageRate float64, cfg Config) (Result, error) {
	if err := h.Validate(); err != nil {
		return Result{}, err
	}
	if overageRate < 0 {
		return Result{}, fmt.Errorf("fitting: overage rate must be nonnegative, got %g", overageRate)
	}
	if cfg.InitPhi <= 0 {
		return Result{}, fmt.Errorf("fitting: initial phi must be positive, got %g", cfg.InitPhi)
	}
	if cfg.InitAlpha <= 0 || cfg.InitAlpha >= 1 {
		return Result{}, fmt.Errorf("fitting: initial alpha must be in (0,1), got %g", cfg.InitAlpha)
	}

	// Regime is decided once for the whole fit.
	surcharge := 0.0
	if overageRate > 0 {
		surcharge = overageRate
	}

	days := h.Weekdays()
	target := h.Amounts()

	problem := lm.Problem{
		Target: target,
		Eval: func(x, dst []float64) error {
			phi, alpha := x[idxPhi], x[idxAlpha]
			for i, day := range days {
				w := weightAt(x, day)
				u, err := behavior.Predict(w, phi+surcharge, alpha)
				if err != nil {
					return err
				}
				dst[i] = u
			}
			return nil
		},
		Jacobian: func(x []float64, jac *mat.Dense) error {
			jac.Zero()
			phi, alpha := x[idxPhi], x[idxAlpha]
			for i, day := range days {
				w := weightAt(x, day)
				part, err := behavior.Partials(w, phi+surcharge, alpha)
				if err != nil {
					return err
				}
				if day == behavior.DerivedDay {
					// The derived weight is ModelConstant minus the six
					// free weights, so its partial distributes with a
					// negative sign across all of them.
					for k := 0; k < behavior.FreeWeights; k++ {
						jac.Set(i, k, -part.DWeight)
					}
				} else {
					jac.Set(i, int(day), part.DWeight)
				}
				jac.Set(i, idxPhi, part.DPhi)
				jac.Set(i, idxAlpha, part.DAlpha)
			}
			return nil
		},
	}

	settings := lm.DefaultSettings()
	settings.MaxIterations = cfg.MaxIterations
	settings.MaxEvaluations = cfg.MaxEvaluations

	sol, err := lm.Solve(problem, initialGuess(cfg), settings)
	if err != nil {
		return Result{}, fmt.Errorf("fitting: %w", err)
	}

	var params behavior.Params
	copy(params.Weights[:], sol.X[:behavior.FreeWeights])
	params.Phi = sol.X[idxPhi]
	params.Alpha = sol.X[idxAlpha]

	return Result{
		Params:       params,
		Converged:    sol.Converged,
		ResidualNorm: sol.ResidualNorm,
		Iterations:   sol.Iterations,
	}, nil
}

func initialGuess(cfg Config) []float64 {
	x0 := make([]float64, nFree)
	for i := 0; i < behavior.FreeWeights; i++ {
		x0[i] = behavior.ModelConstant / behavior.DaysPerWeek
	}
	x0[idxPhi] = cfg.InitPhi
	x0[idxAlpha] = cfg.InitAlpha
	return x0
}

func weightAt(x []float64, day time.Weekday) float64 {
	if day == behavior.DerivedDay {
		return behavior.DeriveWeight(x[:behavior.FreeWeights])
	}
	return x[day]
}
