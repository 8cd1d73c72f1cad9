// Package lm implements a dense Levenberg-Marquardt nonlinear least-squares
// solver with analytic Jacobians.
//
// The solver minimizes sum((target_i - model_i(x))^2) over x. It is small
// and dependency-light on purpose: problems in this codebase have fewer
// than ten free parameters and a few dozen residuals, so dense normal
// equations with Marquardt diagonal damping are both adequate and easy to
// reason about.
package lm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Problem defines a least-squares problem: a model evaluated against a
// fixed target vector, with an analytic Jacobian.
type Problem struct {
	// Eval writes the model values at x into dst (len(dst) == len(Target)).
	// An error marks x as outside the model's domain; the solver rejects
	// the trial step rather than letting NaN propagate.
	Eval func(x, dst []float64) error

	// Jacobian writes d model_i / d x_j at x into jac, one row per
	// residual, one column per parameter.
	Jacobian func(x []float64, jac *mat.Dense) error

	// Target is the observed vector the model is fitted to.
	Target []float64
}

// Settings bounds and tunes the optimization. Budgets are configuration,
// never unbounded.
type Settings struct {
	MaxIterations  int     // Outer iteration budget
	MaxEvaluations int     // Model evaluation budget
	InitDamping    float64 // Initial Marquardt damping factor
	CostTol        float64 // Relative cost-reduction convergence threshold
	GradTol        float64 // Gradient infinity-norm convergence threshold
	StepTol        float64 // Relative step-size convergence threshold
}

// DefaultSettings returns the solver defaults used across the service.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations:  1000,
		MaxEvaluations: 10000,
		InitDamping:    1e-3,
		CostTol:        1e-12,
		GradTol:        1e-10,
		StepTol:        1e-12,
	}
}

// Status describes how the solver stopped.
type Status string

const (
	StatusGradientTol Status = "gradient_tolerance"
	StatusCostTol     Status = "cost_tolerance"
	StatusStepTol     Status = "step_tolerance"
	StatusIterations  Status = "iteration_budget"
	StatusEvaluations Status = "evaluation_budget"
	StatusStalled     Status = "damping_overflow"
)

// Result holds the solver outcome. Exhausting a budget is reported through
// Converged=false, not an error; callers decide whether to retry.
type Result struct {
	X            []float64
	Cost         float64 // Sum of squared residuals at X
	ResidualNorm float64 // sqrt(Cost)
	Converged    bool
	Status       Status
	Iterations   int
	Evaluations  int
}

const (
	dampingUp   = 10.0
	dampingDown = 10.0
	dampingMax  = 1e15
	dampingMin  = 1e-12
)

// Solve runs Levenberg-Marquardt from x0. It returns an error only for
// malformed problems or a domain error at an accepted point; running out
// of budget yields Converged=false.
func Solve(p Problem, x0 []float64, s Settings) (Result, error) {
	m, n := len(p.Target), len(x0)
	if m == 0 {
		return Result{}, fmt.Errorf("lm: empty target vector")
	}
	if n == 0 {
		return Result{}, fmt.Errorf("lm: empty parameter vector")
	}
	if s.MaxIterations <= 0 || s.MaxEvaluations <= 0 {
		return Result{}, fmt.Errorf("lm: iteration and evaluation budgets must be positive")
	}

	x := append([]float64(nil), x0...)
	fx := make([]float64, m)
	residual := make([]float64, m)
	evals := 0

	evalAt := func(at, dst []float64) error {
		evals++
		return p.Eval(at, dst)
	}

	if err := evalAt(x, fx); err != nil {
		return Result{}, fmt.Errorf("lm: initial point outside model domain: %w", err)
	}
	cost := residualsInto(residual, p.Target, fx)

	jac := mat.NewDense(m, n, nil)
	grad := mat.NewVecDense(n, nil)
	step := mat.NewVecDense(n, nil)
	damped := mat.NewSymDense(n, nil)
	var jtj mat.Dense
	var chol mat.Cholesky

	lambda := s.InitDamping
	res := Result{Status: StatusIterations}

	for iter := 0; iter < s.MaxIterations; iter++ {
		res.Iterations = iter + 1

		if err := p.Jacobian(x, jac); err != nil {
			return Result{}, fmt.Errorf("lm: jacobian at accepted point: %w", err)
		}

		// grad = J^T r, the descent direction of the squared-error cost.
		grad.MulVec(jac.T(), mat.NewVecDense(m, residual))
		if norm(grad, math.Inf(1)) < s.GradTol {
			res.Converged = true
			res.Status = StatusGradientTol
			break
		}

		jtj.Mul(jac.T(), jac)

		accepted := false
		for !accepted {
			if evals >= s.MaxEvaluations {
				res.Status = StatusEvaluations
				return finish(res, x, cost, evals), nil
			}
			if lambda > dampingMax {
				res.Status = StatusStalled
				return finish(res, x, cost, evals), nil
			}

			// Marquardt scaling: damp by the diagonal of J^T J so poorly
			// scaled parameters are not over-regularized. A zero diagonal
			// entry (parameter absent from every residual) falls back to
			// unit damping to keep the system nonsingular.
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					damped.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				if d == 0 {
					d = 1
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}

			if ok := chol.Factorize(damped); !ok {
				lambda *= dampingUp
				continue
			}
			if err := chol.SolveVecTo(step, grad); err != nil {
				lambda *= dampingUp
				continue
			}

			trial := make([]float64, n)
			floats.AddTo(trial, x, step.RawVector().Data)

			if norm(step, 2) <= s.StepTol*(floats.Norm(x, 2)+s.StepTol) {
				copy(x, trial)
				res.Converged = true
				res.Status = StatusStepTol
				return finish(res, x, cost, evals), nil
			}

			trialF := make([]float64, m)
			if err := evalAt(trial, trialF); err != nil {
				// Trial point left the model domain; shorten the step.
				lambda *= dampingUp
				continue
			}
			trialResidual := make([]float64, m)
			trialCost := residualsInto(trialResidual, p.Target, trialF)

			if trialCost < cost {
				reduction := (cost - trialCost) / math.Max(cost, math.SmallestNonzeroFloat64)
				copy(x, trial)
				copy(residual, trialResidual)
				cost = trialCost
				lambda = math.Max(lambda/dampingDown, dampingMin)
				accepted = true
				if reduction < s.CostTol {
					res.Converged = true
					res.Status = StatusCostTol
					return finish(res, x, cost, evals), nil
				}
			} else {
				lambda *= dampingUp
			}
		}
	}

	if !res.Converged {
		res.Status = StatusIterations
	}
	return finish(res, x, cost, evals), nil
}

// residualsInto writes target-model into dst and returns the squared norm.
func residualsInto(dst, target, model []float64) float64 {
	cost := 0.0
	for i := range dst {
		dst[i] = target[i] - model[i]
		cost += dst[i] * dst[i]
	}
	return cost
}

func finish(res Result, x []float64, cost float64, evals int) Result {
	res.X = x
	res.Cost = cost
	res.ResidualNorm = math.Sqrt(cost)
	res.Evaluations = evals
	return res
}

func norm(v *mat.VecDense, p float64) float64 {
	return floats.Norm(v.RawVector().Data, p)
}
