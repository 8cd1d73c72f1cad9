package web_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/planwise/planwise/adapters/catalog"
	"github.com/planwise/planwise/app"
	"github.com/planwise/planwise/domain/behavior"
	"github.com/planwise/planwise/web"
)

const testCatalogCSV = `name,description,quota,overage,price
mini,Entry plan,5,0.03,10
standard,Mid-tier plan,50,0.02,25
max,All you can stream,unlimited,0,60
`

func newTestServer(t *testing.T, fitCfg app.CalibrationConfig) *httptest.Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plans.csv")
	if err := os.WriteFile(path, []byte(testCatalogCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := catalog.NewStore(path, zerolog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Stop)

	recCfg := app.DefaultRecommendConfig()
	recCfg.Paths = 20

	h := web.New(web.Deps{
		Calibration: app.NewCalibrationService(fitCfg, zerolog.Nop(), nil),
		Recommend:   app.NewRecommendService(recCfg, zerolog.Nop(), nil),
		Catalog:     store,
		Logger:      zerolog.Nop(),
		Version:     "test",
	})
	srv := httptest.NewServer(h.Router(false, "/metrics"))
	t.Cleanup(srv.Close)
	return srv
}

func defaultFitConfig() app.CalibrationConfig {
	cfg := app.DefaultCalibrationConfig()
	cfg.Paths = 8
	return cfg
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func wireParams() web.ParamsPayload {
	w := behavior.ModelConstant / behavior.DaysPerWeek
	return web.ParamsPayload{W1: w, W2: w, W3: w, W4: w, W5: w, W6: w, Phi: 0.01, Alpha: 0.5}
}

// calibrationUsages synthesizes four weeks of model-consistent usage
// starting on a Sunday.
func calibrationUsages(t *testing.T) []web.UsagePayload {
	t.Helper()
	p := behavior.Params{
		Weights: [6]float64{0.030, 0.034, 0.038, 0.036, 0.040, 0.032},
		Phi:     0.012,
		Alpha:   0.42,
	}
	start := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	out := make([]web.UsagePayload, 28)
	for i := range out {
		date := start.AddDate(0, 0, i)
		amount, err := behavior.Predict(p.WeightFor(date.Weekday()), p.Phi, p.Alpha)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = web.UsagePayload{Date: date.Format("2006-01-02"), Amount: amount + 0.1*float64(i%3)}
	}
	return out
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	var version map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if version["version"] != "test" || version["service"] != "planwise" {
		t.Errorf("version payload = %v", version)
	}
}

func TestGetPlans(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	resp, err := http.Get(srv.URL + "/v1/plans")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Plans []web.PlanPayload `json:"plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Plans) != 3 {
		t.Fatalf("got %d plans, want 3", len(body.Plans))
	}
	last := body.Plans[2]
	if !last.Unlimited || last.Quota != 0 {
		t.Errorf("unlimited plan serialized as %+v", last)
	}
}

func TestUtilityEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	req := web.UtilityRequest{
		Params: wireParams(),
		Plan:   web.PlanPayload{Name: "max", Unlimited: true, Price: 60},
	}
	resp, data := postJSON(t, srv.URL+"/v1/utility", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var out web.UtilityResponse
	decodeInto(t, data, &out)
	if out.Regime != behavior.RegimeLight {
		t.Errorf("unlimited plan regime = %s, want light", out.Regime)
	}
}

func TestUtilityEndpoint_InvalidParams(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	bad := wireParams()
	bad.Alpha = 2
	req := web.UtilityRequest{Params: bad, Plan: web.PlanPayload{Name: "max", Unlimited: true, Price: 60}}
	resp, data := postJSON(t, srv.URL+"/v1/utility", req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var out web.ErrorResponse
	decodeInto(t, data, &out)
	if out.Error.Code != "invalid_input" {
		t.Errorf("error code = %q", out.Error.Code)
	}
}

func TestOptimalUsageEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	req := web.UtilityRequest{
		Params: wireParams(),
		Plan:   web.PlanPayload{Name: "standard", Quota: 50, OverageRate: 0.02, Price: 25},
	}
	resp, data := postJSON(t, srv.URL+"/v1/usage/optimal", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var out web.OptimalUsageResponse
	decodeInto(t, data, &out)
	if len(out.Usages) != behavior.DaysPerWeek {
		t.Fatalf("got %d daily usages, want %d", len(out.Usages), behavior.DaysPerWeek)
	}
	if out.Regime == behavior.RegimeModerate {
		sum := 0.0
		for _, u := range out.Usages {
			sum += u
		}
		if diff := sum - 50; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("moderate usages sum to %g, want the quota", sum)
		}
	}
}

func TestCalibrateEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	req := web.CalibrateRequest{Usages: calibrationUsages(t), Paths: 8}
	resp, data := postJSON(t, srv.URL+"/v1/calibrations", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var out web.CalibrateResponse
	decodeInto(t, data, &out)
	if out.CalibrationID == "" {
		t.Error("missing calibration id")
	}
	if !out.Converged {
		t.Error("calibration did not converge")
	}
	sum := out.Params.W1 + out.Params.W2 + out.Params.W3 + out.Params.W4 +
		out.Params.W5 + out.Params.W6 + out.Params.W7
	if diff := sum - behavior.ModelConstant; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("returned weights sum to %g", sum)
	}
}

func TestCalibrateEndpoint_BadRequests(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	tests := []struct {
		name string
		body any
		want int
		code string
	}{
		{"empty usages", web.CalibrateRequest{}, http.StatusBadRequest, "invalid_input"},
		{"bad date", web.CalibrateRequest{Usages: []web.UsagePayload{{Date: "June 1", Amount: 1}}}, http.StatusBadRequest, "invalid_input"},
		{"negative usage", web.CalibrateRequest{Usages: []web.UsagePayload{{Date: "2025-06-01", Amount: -1}}}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := postJSON(t, srv.URL+"/v1/calibrations", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, data)
			}
			var out web.ErrorResponse
			decodeInto(t, data, &out)
			if out.Error.Code != tt.code {
				t.Errorf("error code = %q, want %q", out.Error.Code, tt.code)
			}
		})
	}
}

func TestCalibrateEndpoint_MalformedJSON(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	resp, err := http.Post(srv.URL+"/v1/calibrations", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// An exhausted optimizer budget is reported as an unprocessable entity,
// not an internal error.
func TestCalibrateEndpoint_NonConvergence(t *testing.T) {
	cfg := defaultFitConfig()
	cfg.Fitting.MaxEvaluations = 2
	srv := newTestServer(t, cfg)

	req := web.CalibrateRequest{Usages: calibrationUsages(t), Paths: 8}
	resp, data := postJSON(t, srv.URL+"/v1/calibrations", req)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", resp.StatusCode, data)
	}

	var out web.ErrorResponse
	decodeInto(t, data, &out)
	if out.Error.Code != "calibration_failed" {
		t.Errorf("error code = %q", out.Error.Code)
	}
}

func TestRecommendEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	req := web.RecommendRequest{Params: wireParams(), Paths: 20}
	resp, data := postJSON(t, srv.URL+"/v1/recommendations", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var out web.RecommendResponse
	decodeInto(t, data, &out)
	if len(out.Plans) != 3 {
		t.Fatalf("ranked %d plans, want 3", len(out.Plans))
	}
	for i := 1; i < len(out.Plans); i++ {
		if out.Plans[i-1].Utility < out.Plans[i].Utility {
			t.Errorf("plans out of order at %d: %g < %g", i, out.Plans[i-1].Utility, out.Plans[i].Utility)
		}
	}
	for _, p := range out.Plans {
		if p.UtilityLow > p.UtilityHigh {
			t.Errorf("plan %s band inverted: [%g, %g]", p.Plan.Name, p.UtilityLow, p.UtilityHigh)
		}
	}
}

func TestRecommendEndpoint_TopK(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	req := web.RecommendRequest{Params: wireParams(), Paths: 20, TopK: 1}
	resp, data := postJSON(t, srv.URL+"/v1/recommendations", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var out web.RecommendResponse
	decodeInto(t, data, &out)
	if len(out.Plans) != 1 {
		t.Errorf("ranked %d plans, want 1", len(out.Plans))
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t, defaultFitConfig())

	resp, err := http.Get(fmt.Sprintf("%s/v1/nonsense", srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
