package app

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/planwise/planwise/adapters/metrics"
	"github.com/planwise/planwise/domain/behavior"
	"github.com/planwise/planwise/domain/plan"
	"github.com/planwise/planwise/domain/utility"
)

// RecommendConfig tunes the plan ranker.
type RecommendConfig struct {
	Paths   int    // Default simulation path count
	Workers int    // 0 = GOMAXPROCS
	Seed    uint64 // Base seed for the per-path generators
}

// DefaultRecommendConfig returns the ranker defaults.
func DefaultRecommendConfig() RecommendConfig {
	return RecommendConfig{Paths: 1000, Seed: 1}
}

// RankedPlan is a candidate plan with its nominal utility and the [5th,
// 95th] percentile band of the simulated utility distribution.
type RankedPlan struct {
	Plan        plan.Plan
	Regime      behavior.Regime
	Utility     float64
	UtilityLow  float64 // 5th percentile of simulated utilities
	UtilityHigh float64 // 95th percentile of simulated utilities
}

// RecommendService ranks candidate plans for a calibrated user.
type RecommendService struct {
	cfg     RecommendConfig
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewRecommendService creates a recommendation service. metrics may be nil.
func NewRecommendService(cfg RecommendConfig, logger zerolog.Logger, m *metrics.Collector) *RecommendService {
	return &RecommendService{cfg: cfg, logger: logger, metrics: m}
}

// RankPlans orders candidate plans by nominal utility descending, with a
// Monte-Carlo confidence band per plan derived from the parameter
// uncertainty. Ties keep their input order - every candidate appears in
// the output exactly once even when utilities coincide. topK <= 0 returns
// all plans.
func (s *RecommendService) RankPlans(p behavior.Params, std behavior.ParamsStddev, plans []plan.Plan, paths, topK int) ([]RankedPlan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for _, pl := range plans {
		if err := pl.Validate(); err != nil {
			return nil, err
		}
	}
	if len(plans) == 0 {
		return []RankedPlan{}, nil
	}
	if paths <= 0 {
		paths = s.cfg.Paths
	}
	if paths < 2 {
		return nil, fmt.Errorf("app: at least 2 simulation paths required, got %d", paths)
	}

	start := time.Now()
	ranked := make([]RankedPlan, len(plans))
	for i, pl := range plans {
		regime, err := utility.Classify(p, pl)
		if err != nil {
			return nil, err
		}
		ranked[i] = RankedPlan{
			Plan:    pl,
			Regime:  regime,
			Utility: utility.UtilityIn(regime, p, pl),
		}
	}

	// One row of simulated utilities per path; no two paths share state.
	simulated := make([][]float64, paths)
	runPaths(paths, s.cfg.Workers, func(path int) {
		src := rand.NewSource(pathSeed(s.cfg.Seed, streamRanking, path))
		drawn := perturbParams(p, std, src)

		row := make([]float64, len(plans))
		for i, pl := range plans {
			u, err := utility.Utility(drawn, pl)
			if err != nil {
				// Sanitized draws stay inside the model domain; if one
				// slips through, fall back to the nominal estimate so the
				// percentile arrays keep a value per path.
				s.logger.Warn().Err(err).Str("plan", pl.Name).Msg("simulated draw rejected")
				u = ranked[i].Utility
			}
			row[i] = u
		}
		simulated[path] = row
	})

	lowIdx := int(float64(paths) * 0.05)
	highIdx := int(float64(paths) * 0.95)
	column := make([]float64, paths)
	for i := range ranked {
		for path := 0; path < paths; path++ {
			column[path] = simulated[path][i]
		}
		sort.Float64s(column)
		ranked[i].UtilityLow = column[lowIdx]
		ranked[i].UtilityHigh = column[highIdx]
	}

	// Stable sort keeps input order for equal utilities; a map keyed by
	// utility would silently drop coinciding entries.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Utility > ranked[j].Utility
	})
	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}

	if s.metrics != nil {
		s.metrics.RankingsTotal.Inc()
		s.metrics.SimulationPaths.Add(float64(paths))
		s.metrics.PlansRanked.Observe(float64(len(plans)))
	}
	s.logger.Debug().
		Int("plans", len(plans)).
		Int("paths", paths).
		Int("returned", len(ranked)).
		Dur("elapsed", time.Since(start)).
		Msg("plans ranked")
	return ranked, nil
}

// Best returns the single highest-utility plan, ties going to the earliest
// candidate.
func (s *RecommendService) Best(p behavior.Params, plans []plan.Plan) (plan.Plan, float64, error) {
	if err := p.Validate(); err != nil {
		return plan.Plan{}, 0, err
	}
	if len(plans) == 0 {
		return plan.Plan{}, 0, fmt.Errorf("app: no candidate plans")
	}
	best := plans[0]
	bestU, err := utility.Utility(p, best)
	if err != nil {
		return plan.Plan{}, 0, err
	}
	for _, pl := range plans[1:] {
		u, err := utility.Utility(p, pl)
		if err != nil {
			return plan.Plan{}, 0, err
		}
		if u > bestU {
			best, bestU = pl, u
		}
	}
	return best, bestU, nil
}

// perturbParams draws a parameter set around p with per-field spread std.
// Only the free parameters are perturbed; the Saturday weight stays
// derived from the six free weights. Draws are clamped back into the model
// domain so every path yields an evaluable parameter set.
func perturbParams(p behavior.Params, std behavior.ParamsStddev, src rand.Source) behavior.Params {
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	drawn := p
	for i := range drawn.Weights {
		drawn.Weights[i] += std.Weights[i] * unit.Rand()
		if drawn.Weights[i] < 0 {
			drawn.Weights[i] = 0
		}
	}
	// Keep the derived weight nonnegative: if the perturbed free weights
	// overshoot the model constant, scale them back onto the boundary.
	if behavior.DeriveWeight(drawn.Weights[:]) < 0 {
		sum := 0.0
		for _, w := range drawn.Weights {
			sum += w
		}
		scale := behavior.ModelConstant / sum
		for i := range drawn.Weights {
			drawn.Weights[i] *= scale
		}
	}

	drawn.Phi += std.Phi * unit.Rand()
	if drawn.Phi < minPhi {
		drawn.Phi = minPhi
	}
	drawn.Alpha += std.Alpha * unit.Rand()
	if drawn.Alpha < minAlpha {
		drawn.Alpha = minAlpha
	}
	if drawn.Alpha > maxAlpha {
		drawn.Alpha = maxAlpha
	}
	return drawn
}

const (
	minPhi   = 1e-9
	minAlpha = 1e-6
	maxAlpha = 1 - 1e-6
)
