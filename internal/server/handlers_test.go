package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/config"
	"flowsmith/internal/events"
	"flowsmith/internal/ledger"
	"flowsmith/internal/llm"
	"flowsmith/internal/pipeline"
)

func newTestServer(t *testing.T) (http.Handler, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New(ledger.NewMemoryStore())
	require.NoError(t, err)

	client := llm.Wrap(llm.NewFakeClient(0), llm.WithMetering())
	hub := events.NewHub()
	pipe := pipeline.New(client, led, nil, nil, hub, pipeline.Config{})
	credit := config.CreditConfig{Allocation: 100, RolloverFraction: 0.5}
	return NewMux(pipe, led, hub, credit), led
}

func postJSON(t *testing.T, mux http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGenerate(t *testing.T) {
	mux, led := newTestServer(t)
	require.NoError(t, led.Provision(context.Background(), "alice", ledger.Balance{Regular: 50}))

	rec := postJSON(t, mux, "/v1/generate",
		map[string]any{"prompt": "post webhook payloads to slack", "platform": "n8n"},
		map[string]string{"X-Principal": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Graph)
	assert.NotEmpty(t, res.Graph.Nodes)
	assert.Equal(t, ledger.OutcomeSuccess, res.Entry.Outcome)
	assert.Greater(t, res.ActualCost, int64(0))
}

func TestGenerateRequiresPrincipal(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := postJSON(t, mux, "/v1/generate", map[string]any{"prompt": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateRequiresPrompt(t *testing.T) {
	mux, _ := newTestServer(t)
	rec := postJSON(t, mux, "/v1/generate", map[string]any{"platform": "n8n"},
		map[string]string{"X-Principal": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	mux, led := newTestServer(t)
	require.NoError(t, led.Provision(context.Background(), "alice", ledger.Balance{Regular: 1}))

	rec := postJSON(t, mux, "/v1/generate",
		map[string]any{"prompt": "post webhook payloads to slack", "platform": "n8n"},
		map[string]string{"X-Principal": "alice"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body struct {
		Kind  string `json:"kind"`
		Stage string `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_credits", body.Kind)
	assert.Equal(t, "admission", body.Stage)
}

func TestBalance(t *testing.T) {
	mux, led := newTestServer(t)
	require.NoError(t, led.Provision(context.Background(), "alice", ledger.Balance{Regular: 7, Bonus: 3}))

	req := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	req.Header.Set("X-Principal", "alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var bal ledger.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, ledger.Balance{Regular: 7, Bonus: 3}, bal)
}

func TestBalanceByQueryParam(t *testing.T) {
	mux, led := newTestServer(t)
	require.NoError(t, led.Provision(context.Background(), "bob", ledger.Balance{Regular: 4}))

	req := httptest.NewRequest(http.MethodGet, "/v1/balance?principal=bob", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var bal ledger.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, int64(4), bal.Regular)
}

func TestRollover(t *testing.T) {
	mux, led := newTestServer(t)
	require.NoError(t, led.Provision(context.Background(), "alice", ledger.Balance{Regular: 80, Bonus: 9}))

	rec := postJSON(t, mux, "/v1/admin/rollover", map[string]any{"principal": "alice"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entry ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	// Configured policy: allocation 100, cap 0.5 -> carry 50 of the 80.
	assert.Equal(t, ledger.Balance{Regular: 150, Bonus: 9}, entry.After)
	assert.Equal(t, ledger.OutcomeRollover, entry.Outcome)
}

func TestRolloverOverrides(t *testing.T) {
	mux, led := newTestServer(t)
	require.NoError(t, led.Provision(context.Background(), "alice", ledger.Balance{Regular: 80}))

	rec := postJSON(t, mux, "/v1/admin/rollover",
		map[string]any{"principal": "alice", "allocation": 10, "rollover_fraction": 0.1}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, int64(11), entry.After.Regular)
}

func TestProvision(t *testing.T) {
	mux, led := newTestServer(t)

	rec := postJSON(t, mux, "/v1/admin/provision",
		map[string]any{"principal": "carol", "regular": 25, "bonus": 5}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	bal, err := led.Store().Balance(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, ledger.Balance{Regular: 25, Bonus: 5}, bal)
}

func TestCORSPreflight(t *testing.T) {
	mux, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
