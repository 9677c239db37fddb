package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/candidate"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/config"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/history"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/predictor"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/router"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/scorer"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/telemetry"
)

type testAPI struct {
	store    *candidate.Store
	ingestor *candidate.Ingestor
	history  *history.MemoryStore
	mux      *mux.Router
}

func newTestAPI(t *testing.T, pred predictor.Predictor) *testAPI {
	t.Helper()
	cfg := config.Default()
	logger := zaptest.NewLogger(t)
	metrics := telemetry.NewNop()

	mem := history.NewMemoryStore()
	seedOutcomes(t, mem)

	store := candidate.New(cfg.Candidates, cfg.Retrain, mem, logger, metrics)
	store.Seed(candidate.DefaultRoster())

	ing := candidate.NewIngestor(store, cfg.Candidates.FeedbackQueueDepth, logger, metrics)
	ing.Start()
	t.Cleanup(ing.Close)

	r := router.New(router.Params{
		Candidates:     store,
		Predictor:      pred,
		Scorer:         scorer.New(config.NewWeightsProvider(logger)),
		Routing:        cfg.Routing,
		RoutableHealth: cfg.Candidates.RoutableHealth,
		PredictTimeout: cfg.Predictor.Timeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	m := mux.NewRouter()
	New(r, store, ing, pred, logger).RegisterRoutes(m)
	return &testAPI{store: store, ingestor: ing, history: mem, mux: m}
}

// seedOutcomes writes enough recent segment history for 978:1 that two PSPs
// clear the minimum volume gate.
func seedOutcomes(t *testing.T, mem *history.MemoryStore) {
	t.Helper()
	at := time.Now().Add(-time.Hour)
	rows := make([]history.OutcomeRow, 0, 40)
	add := func(psp string, successes, failures int, feeBps float64) {
		for i := 0; i < successes; i++ {
			rows = append(rows, history.OutcomeRow{
				PSP: psp, Status: 5, CurrencyID: 978, PaymentMethodID: 1,
				FeeBps: feeBps, ThreeDS: true, CreatedAt: at,
			})
		}
		for i := 0; i < failures; i++ {
			rows = append(rows, history.OutcomeRow{
				PSP: psp, Status: 2, CurrencyID: 978, PaymentMethodID: 1,
				FeeBps: feeBps, ThreeDS: true, CreatedAt: at,
			})
		}
	}
	add("payflow", 17, 3, 220)
	add("cardmax", 16, 4, 180)
	require.NoError(t, mem.Append(context.Background(), rows...))
}

func readyEnsemble(t *testing.T) *predictor.LocalEnsemble {
	t.Helper()
	e := predictor.NewLocalEnsemble("", zaptest.NewLogger(t))
	require.NoError(t, e.Load(context.Background()))
	return e
}

func decideBody() []byte {
	return []byte(`{
		"merchant_id": "m-1",
		"buyer_country": "NL",
		"merchant_country": "NL",
		"currency_id": 978,
		"payment_method_id": 1,
		"amount": 150,
		"risk_score": 15
	}`)
}

func (a *testAPI) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func TestDecideEndpoint_OK(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))

	rec := api.do(http.MethodPost, "/v1/decisions", decideBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d model.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "1.0", d.SchemaVersion)
	assert.NotEmpty(t, d.DecisionID)
	assert.Equal(t, "payflow", d.Candidate)
	assert.Equal(t, model.GuardrailNone, d.Guardrail)
	assert.NotEmpty(t, d.Reasoning)
	assert.NotEmpty(t, d.FeaturesUsed)
}

func TestDecideEndpoint_MalformedBody(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))
	rec := api.do(http.MethodPost, "/v1/decisions", []byte(`{"amount": `))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecideEndpoint_InvalidTransaction(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))
	rec := api.do(http.MethodPost, "/v1/decisions", []byte(`{"currency_id":978,"payment_method_id":1,"amount":0}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "amount")
}

func TestDecideEndpoint_NoEligibleCandidate(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))
	// A segment with no history yields no routable candidates.
	rec := api.do(http.MethodPost, "/v1/decisions",
		[]byte(`{"merchant_id":"m-1","currency_id":840,"payment_method_id":2,"amount":50}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDecideEndpoint_CandidateUnavailable(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))
	api.history.FailSegments = map[history.Segment]error{
		{CurrencyID: 978, PaymentMethodID: 1}: errors.New("store down"),
	}

	rec := api.do(http.MethodPost, "/v1/decisions", decideBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestFeedbackEndpoint_AcceptedAndIdempotent(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))

	before := candidateByPSP(t, api.store, "payflow").Totals.Count
	body := []byte(`{"decision_id":"d-1","psp":"payflow","authorized":true,"processing_ms":120}`)
	for i := 0; i < 2; i++ {
		rec := api.do(http.MethodPost, "/v1/feedback", body)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), `"decision_id":"d-1"`)
	}

	assert.Eventually(t, func() bool {
		return candidateByPSP(t, api.store, "payflow").Totals.Count == before+1
	}, 2*time.Second, 10*time.Millisecond, "one application despite re-delivery")
}

func TestFeedbackEndpoint_Invalid(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))

	rec := api.do(http.MethodPost, "/v1/feedback", []byte(`{"decision_id":"d-1","authorized":true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "psp")

	rec = api.do(http.MethodPost, "/v1/feedback", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCandidatesEndpoint(t *testing.T) {
	api := newTestAPI(t, readyEnsemble(t))

	rec := api.do(http.MethodGet, "/v1/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Candidates []model.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 4, "full seeded roster, ordered by name")
	for i := 1; i < len(resp.Candidates); i++ {
		assert.True(t, strings.Compare(resp.Candidates[i-1].PSP, resp.Candidates[i].PSP) < 0)
	}
}

func TestModelStatusEndpoint(t *testing.T) {
	t.Run("ready ensemble", func(t *testing.T) {
		api := newTestAPI(t, readyEnsemble(t))
		rec := api.do(http.MethodGet, "/v1/model/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp["status"])
		assert.Equal(t, "baseline-1", resp["model_version"])
	})

	t.Run("null predictor", func(t *testing.T) {
		api := newTestAPI(t, predictor.Null{})
		rec := api.do(http.MethodGet, "/v1/model/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "not_loaded", resp["status"])
	})
}

func TestDecideEndpoint_FallbackWhenPredictorDown(t *testing.T) {
	api := newTestAPI(t, predictor.Null{})

	rec := api.do(http.MethodPost, "/v1/decisions", decideBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d model.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Contains(t, d.Reasoning, "deterministic fallback")
}

func candidateByPSP(t *testing.T, store *candidate.Store, psp string) model.Candidate {
	t.Helper()
	for _, c := range store.GetAllCandidates() {
		if c.PSP == psp {
			return c
		}
	}
	t.Fatalf("candidate %s not found", psp)
	return model.Candidate{}
}
