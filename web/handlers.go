package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/planwise/planwise/domain/behavior"
	"github.com/planwise/planwise/domain/plan"
	"github.com/planwise/planwise/domain/usage"
	"github.com/planwise/planwise/domain/utility"
)

const dateLayout = "2006-01-02"

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParamsPayload mirrors behavior.Params on the wire. Weights follow the
// weekday cycle w1=Sunday .. w7=Saturday; w7 is derived from the other six
// and is ignored on input.
type ParamsPayload struct {
	W1    float64 `json:"w1"`
	W2    float64 `json:"w2"`
	W3    float64 `json:"w3"`
	W4    float64 `json:"w4"`
	W5    float64 `json:"w5"`
	W6    float64 `json:"w6"`
	W7    float64 `json:"w7"`
	Phi   float64 `json:"phi"`
	Alpha float64 `json:"alpha"`
}

func paramsToWire(p behavior.Params) ParamsPayload {
	w := p.AllWeights()
	return ParamsPayload{
		W1: w[0], W2: w[1], W3: w[2], W4: w[3], W5: w[4], W6: w[5], W7: w[6],
		Phi: p.Phi, Alpha: p.Alpha,
	}
}

func (pp ParamsPayload) toDomain() behavior.Params {
	return behavior.Params{
		Weights: [behavior.FreeWeights]float64{pp.W1, pp.W2, pp.W3, pp.W4, pp.W5, pp.W6},
		Phi:     pp.Phi,
		Alpha:   pp.Alpha,
	}
}

// StddevPayload mirrors behavior.ParamsStddev on the wire.
type StddevPayload struct {
	W1    float64 `json:"w1"`
	W2    float64 `json:"w2"`
	W3    float64 `json:"w3"`
	W4    float64 `json:"w4"`
	W5    float64 `json:"w5"`
	W6    float64 `json:"w6"`
	W7    float64 `json:"w7"`
	Phi   float64 `json:"phi"`
	Alpha float64 `json:"alpha"`
}

func stddevToWire(s behavior.ParamsStddev) StddevPayload {
	w := s.Weights
	return StddevPayload{
		W1: w[0], W2: w[1], W3: w[2], W4: w[3], W5: w[4], W6: w[5], W7: w[6],
		Phi: s.Phi, Alpha: s.Alpha,
	}
}

func (sp StddevPayload) toDomain() behavior.ParamsStddev {
	return behavior.ParamsStddev{
		Weights: [behavior.DaysPerWeek]float64{sp.W1, sp.W2, sp.W3, sp.W4, sp.W5, sp.W6, sp.W7},
		Phi:     sp.Phi,
		Alpha:   sp.Alpha,
	}
}

// PlanPayload mirrors plan.Plan on the wire. JSON has no infinity, so
// unlimited plans carry unlimited=true and the quota field is ignored.
type PlanPayload struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quota       float64 `json:"quota"`
	Unlimited   bool    `json:"unlimited,omitempty"`
	OverageRate float64 `json:"overage_rate"`
	Price       float64 `json:"price"`
}

func planToWire(p plan.Plan) PlanPayload {
	pp := PlanPayload{
		Name:        p.Name,
		Description: p.Description,
		Quota:       p.Quota,
		OverageRate: p.OverageRate,
		Price:       p.Price,
	}
	if p.Unlimited() {
		pp.Quota = 0
		pp.Unlimited = true
	}
	return pp
}

func (pp PlanPayload) toDomain() plan.Plan {
	p := plan.Plan{
		Name:        pp.Name,
		Description: pp.Description,
		Quota:       pp.Quota,
		OverageRate: pp.OverageRate,
		Price:       pp.Price,
	}
	if pp.Unlimited {
		p.Quota = math.Inf(1)
	}
	return p
}

// UsagePayload is one observed day of usage.
type UsagePayload struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Amount float64 `json:"gb"`
}

// CalibrateRequest asks for a parameter fit plus uncertainty estimate.
type CalibrateRequest struct {
	Usages      []UsagePayload `json:"usages"`
	OverageRate float64        `json:"overage_rate"`
	Paths       int            `json:"paths,omitempty"` // 0 = configured default
}

// CalibrateResponse carries the fitted parameters and their spread.
type CalibrateResponse struct {
	CalibrationID string         `json:"calibration_id"`
	Params        ParamsPayload  `json:"params"`
	Stddev        StddevPayload  `json:"stddev"`
	Converged     bool           `json:"converged"`
	ResidualNorm  float64        `json:"residual_norm"`
}

// Calibrate fits behavioral parameters to a usage history and estimates
// their uncertainty.
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	history, err := historyFromWire(req.Usages)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	calibrationID := uuid.NewString()
	logger := h.logger.With().Str("calibration_id", calibrationID).Logger()

	fit, err := h.calibration.Fit(history, req.OverageRate)
	if err != nil {
		writeFitError(w, err)
		return
	}
	if !fit.Converged {
		// OptimizationFailure is recoverable for the caller but there is
		// nothing useful to report for this history.
		writeError(w, http.StatusUnprocessableEntity, "calibration_failed",
			"could not calibrate from provided usage history")
		return
	}

	std, err := h.calibration.EstimateUncertainty(history, req.OverageRate, req.Paths)
	if err != nil {
		logger.Warn().Err(err).Msg("uncertainty estimation failed")
		writeError(w, http.StatusUnprocessableEntity, "calibration_failed",
			"could not estimate parameter uncertainty from provided usage history")
		return
	}

	writeJSON(w, http.StatusOK, CalibrateResponse{
		CalibrationID: calibrationID,
		Params:        paramsToWire(fit.Params),
		Stddev:        stddevToWire(std),
		Converged:     fit.Converged,
		ResidualNorm:  fit.ResidualNorm,
	})
}

// UtilityRequest asks for the monthly utility of a (params, plan) pair.
type UtilityRequest struct {
	Params ParamsPayload `json:"params"`
	Plan   PlanPayload   `json:"plan"`
}

// UtilityResponse carries the regime and the utility value.
type UtilityResponse struct {
	Regime  behavior.Regime `json:"regime"`
	Utility float64         `json:"utility"`
}

// Utility evaluates the closed-form monthly utility of a plan for a user.
func (h *Handler) Utility(w http.ResponseWriter, r *http.Request) {
	var req UtilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	params := req.Params.toDomain()
	pl := req.Plan.toDomain()

	regime, err := utility.Classify(params, pl)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UtilityResponse{
		Regime:  regime,
		Utility: utility.UtilityIn(regime, params, pl),
	})
}

// OptimalUsageResponse carries the per-weekday optimal usage.
type OptimalUsageResponse struct {
	Regime behavior.Regime `json:"regime"`
	Usages []float64       `json:"usages"` // Sunday..Saturday
}

// OptimalUsage returns the per-day usage a rational user would choose
// under a plan's pricing.
func (h *Handler) OptimalUsage(w http.ResponseWriter, r *http.Request) {
	var req UtilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	params := req.Params.toDomain()
	pl := req.Plan.toDomain()

	regime, err := utility.Classify(params, pl)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	usages, err := utility.OptimalUsage(params, pl)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OptimalUsageResponse{Regime: regime, Usages: usages[:]})
}

// RecommendRequest asks for a ranking of the catalog for a user.
type RecommendRequest struct {
	Params ParamsPayload `json:"params"`
	Stddev StddevPayload `json:"stddev"`
	Paths  int           `json:"paths,omitempty"` // 0 = configured default
	TopK   int           `json:"top_k,omitempty"` // 0 = all plans
}

// RankedPlanPayload is one ranked candidate with its confidence band.
type RankedPlanPayload struct {
	Plan        PlanPayload     `json:"plan"`
	Regime      behavior.Regime `json:"regime"`
	Utility     float64         `json:"utility"`
	UtilityLow  float64         `json:"utility_low"`
	UtilityHigh float64         `json:"utility_high"`
}

// RecommendResponse is the ranked plan list, best first.
type RecommendResponse struct {
	Plans []RankedPlanPayload `json:"plans"`
}

// Recommend ranks the current plan catalog for a calibrated user.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	ranked, err := h.recommend.RankPlans(
		req.Params.toDomain(), req.Stddev.toDomain(),
		h.catalog.Plans(), req.Paths, req.TopK,
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	resp := RecommendResponse{Plans: make([]RankedPlanPayload, len(ranked))}
	for i, rp := range ranked {
		resp.Plans[i] = RankedPlanPayload{
			Plan:        planToWire(rp.Plan),
			Regime:      rp.Regime,
			Utility:     rp.Utility,
			UtilityLow:  rp.UtilityLow,
			UtilityHigh: rp.UtilityHigh,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Plans returns the current catalog snapshot.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := h.catalog.Plans()
	out := make([]PlanPayload, len(plans))
	for i, p := range plans {
		out[i] = planToWire(p)
	}
	writeJSON(w, http.StatusOK, map[string][]PlanPayload{"plans": out})
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version reports the build version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "planwise", "version": h.version})
}

func historyFromWire(usages []UsagePayload) (usage.History, error) {
	if len(usages) == 0 {
		return nil, fmt.Errorf("usages must not be empty")
	}
	h := make(usage.History, len(usages))
	for i, u := range usages {
		date, err := time.Parse(dateLayout, u.Date)
		if err != nil {
			return nil, fmt.Errorf("usages[%d].date %q: expected YYYY-MM-DD", i, u.Date)
		}
		h[i] = usage.Sample{Date: date, Amount: u.Amount}
	}
	return h, h.Validate()
}

func writeFitError(w http.ResponseWriter, err error) {
	if errors.Is(err, behavior.ErrDomain) {
		writeError(w, http.StatusUnprocessableEntity, "domain_error", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
