package app

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/planwise/planwise/adapters/metrics"
	"github.com/planwise/planwise/domain/behavior"
	"github.com/planwise/planwise/domain/fitting"
	"github.com/planwise/planwise/domain/usage"
)

// CalibrationConfig tunes the calibration service.
type CalibrationConfig struct {
	Fitting fitting.Config
	Paths   int    // Default resampling path count
	Workers int    // 0 = GOMAXPROCS
	Seed    uint64 // Base seed for the per-path generators
}

// DefaultCalibrationConfig returns the calibration defaults.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		Fitting: fitting.DefaultConfig(),
		Paths:   1000,
		Seed:    1,
	}
}

// CalibrationService fits behavioral parameters to usage histories and
// estimates the uncertainty of the fit by resampling.
type CalibrationService struct {
	cfg     CalibrationConfig
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewCalibrationService creates a calibration service. metrics may be nil
// (e.g. in the offline CLI path).
func NewCalibrationService(cfg CalibrationConfig, logger zerolog.Logger, m *metrics.Collector) *CalibrationService {
	return &CalibrationService{cfg: cfg, logger: logger, metrics: m}
}

// Fit recovers behavioral parameters from a usage history. Non-convergence
// is reported in the result, not as an error.
func (s *CalibrationService) Fit(h usage.History, overageRate float64) (fitting.Result, error) {
	start := time.Now()
	res, err := fitting.Fit(h, overageRate, s.cfg.Fitting)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.FitDuration.Observe(elapsed.Seconds())
		switch {
		case err != nil:
			s.metrics.FitsTotal.WithLabelValues("error").Inc()
		case res.Converged:
			s.metrics.FitsTotal.WithLabelValues("converged").Inc()
			s.metrics.FitIterations.Observe(float64(res.Iterations))
		default:
			s.metrics.FitsTotal.WithLabelValues("unconverged").Inc()
			s.metrics.FitIterations.Observe(float64(res.Iterations))
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Int("samples", len(h)).Msg("fit rejected")
		return fitting.Result{}, err
	}

	s.logger.Debug().
		Int("samples", len(h)).
		Bool("converged", res.Converged).
		Float64("residual_norm", res.ResidualNorm).
		Int("iterations", res.Iterations).
		Dur("elapsed", elapsed).
		Msg("fit complete")
	return res, nil
}

// EstimateUncertainty resamples the history with Gaussian perturbations,
// refits each path and returns the per-parameter standard deviation across
// paths. Paths whose refit fails are skipped; at least two paths must
// survive for a spread to exist.
func (s *CalibrationService) EstimateUncertainty(h usage.History, overageRate float64, paths int) (behavior.ParamsStddev, error) {
	if err := h.Validate(); err != nil {
		return behavior.ParamsStddev{}, err
	}
	if paths <= 0 {
		paths = s.cfg.Paths
	}
	if paths < 2 {
		return behavior.ParamsStddev{}, fmt.Errorf("app: at least 2 resampling paths required, got %d", paths)
	}

	sigma := h.StdDev()
	start := time.Now()

	type pathFit struct {
		ok      bool
		weights [behavior.DaysPerWeek]float64
		phi     float64
		alpha   float64
	}
	fits := make([]pathFit, paths)

	runPaths(paths, s.cfg.Workers, func(path int) {
		noise := distuv.Normal{
			Mu:    0,
			Sigma: sigma,
			Src:   rand.NewSource(pathSeed(s.cfg.Seed, streamResample, path)),
		}

		perturbed := make(usage.History, len(h))
		for i, sample := range h {
			amount := sample.Amount
			if sigma > 0 {
				amount += noise.Rand()
			}
			if amount < 0 {
				amount = 0
			}
			perturbed[i] = usage.Sample{Date: sample.Date, Amount: amount}
		}

		res, err := fitting.Fit(perturbed, overageRate, s.cfg.Fitting)
		if err != nil {
			return
		}
		fits[path] = pathFit{
			ok:      true,
			weights: res.Params.AllWeights(),
			phi:     res.Params.Phi,
			alpha:   res.Params.Alpha,
		}
	})

	var (
		weightSeries [behavior.DaysPerWeek][]float64
		phiSeries    []float64
		alphaSeries  []float64
	)
	for _, f := range fits {
		if !f.ok {
			continue
		}
		for d := 0; d < behavior.DaysPerWeek; d++ {
			weightSeries[d] = append(weightSeries[d], f.weights[d])
		}
		phiSeries = append(phiSeries, f.phi)
		alphaSeries = append(alphaSeries, f.alpha)
	}

	survived := len(phiSeries)
	if s.metrics != nil {
		s.metrics.ResamplePaths.Add(float64(paths))
		s.metrics.ResampleErrors.Add(float64(paths - survived))
	}
	if survived < 2 {
		return behavior.ParamsStddev{}, fmt.Errorf("app: only %d of %d resampling paths produced a fit", survived, paths)
	}

	var std behavior.ParamsStddev
	for d := 0; d < behavior.DaysPerWeek; d++ {
		std.Weights[d] = sampleStdDev(weightSeries[d])
	}
	std.Phi = sampleStdDev(phiSeries)
	std.Alpha = sampleStdDev(alphaSeries)

	s.logger.Debug().
		Int("paths", paths).
		Int("survived", survived).
		Float64("usage_stddev", sigma).
		Dur("elapsed", time.Since(start)).
		Msg("uncertainty estimated")
	return std, nil
}

// sampleStdDev is the N-1 sample standard deviation, with a zero-spread
// guard against the tiny negative variances floating point can produce.
func sampleStdDev(xs []float64) float64 {
	sd := stat.StdDev(xs, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}
