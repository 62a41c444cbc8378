package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradegate/internal/agent/engine"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"
	"tradegate/internal/store/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunRound(ctx context.Context) (engine.RoundReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(engine.RoundReport), args.Error(1)
}

type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) ListRounds(ctx context.Context, limit int) ([]audit.RoundRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]audit.RoundRecord), args.Error(1)
}

func (m *MockAudit) ListActivations(ctx context.Context, agentID string, limit int) ([]circuit.Activation, error) {
	args := m.Called(ctx, agentID, limit)
	return args.Get(0).([]circuit.Activation), args.Error(1)
}

type fixture struct {
	handler  http.Handler
	breaker  *circuit.Breaker
	lock     *tradelock.Lock
	runner   *MockRunner
	auditLog *MockAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	limiters := ratelimit.NewRegistry(ratelimit.DefaultConfigs())
	t.Cleanup(limiters.Close)
	f := &fixture{
		breaker:  circuit.New(circuit.DefaultConfig()),
		lock:     tradelock.New(),
		runner:   &MockRunner{},
		auditLog: &MockAudit{},
	}
	r := &Router{Breaker: f.breaker, Limiters: limiters, Lock: f.lock, Rounds: f.runner, Audit: f.auditLog}
	f.handler = newEngine(r, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tradegate_lock_held 0\n"))
	}))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradegate_lock_held")
}

func TestBreakerCheckAndStatus(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost, "/api/live/breaker/check", `{
		"agent_id": "alpha",
		"decision": {"action": "BUY", "symbol": "SOL", "quantity": 200},
		"portfolio": {"cash_balance": 1000, "total_value": 1000}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, 50.0, body["decision"].(map[string]any)["quantity"])
	assert.Len(t, body["activations"], 1)

	rec, body = f.do(t, http.MethodGet, "/api/live/breaker/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total_activations"])

	rec, body = f.do(t, http.MethodGet, "/api/live/breaker/activations?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	acts := body["activations"].([]any)
	require.Len(t, acts, 1)
	assert.Equal(t, "MAX_TRADE_SIZE", acts[0].(map[string]any)["breaker"])
}

func TestBreakerCheckRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/api/live/breaker/check", `{"decision":{"action":"buy","symbol":"SOL","quantity":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/api/live/breaker/check", `{"agent_id":"a","decision":{"action":"short","symbol":"SOL","quantity":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestBreakerConfigPatchAndReset(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPatch, "/api/live/breaker/config", `{"max_trade_notional": 80, "cooldown_seconds": 0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := body["config"].(map[string]any)
	assert.Equal(t, 80.0, cfg["max_trade_notional"])
	assert.Equal(t, 0.0, cfg["cooldown_seconds"])
	assert.Equal(t, float64(circuit.DefaultMaxDailyTrades), cfg["max_daily_trades"])
	assert.Equal(t, 80.0, f.breaker.Config().MaxTradeNotional)

	rec, _ = f.do(t, http.MethodPatch, "/api/live/breaker/config", `{"max_daily_trades": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.breaker.RecordExecution("alpha")
	rec, _ = f.do(t, http.MethodPost, "/api/live/breaker/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.breaker.Status().Agents)
}

func TestLimitersEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/api/live/limiters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["limiters"], 4)
}

func TestLockEndpoints(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodGet, "/api/live/lock", "")
	assert.Equal(t, false, body["locked"])

	f.lock.Acquire("wedged-round")
	_, body = f.do(t, http.MethodGet, "/api/live/lock", "")
	assert.Equal(t, true, body["locked"])
	assert.Equal(t, "wedged-round", body["lock"].(map[string]any)["holder"])

	_, body = f.do(t, http.MethodPost, "/api/live/lock/force-release", "")
	assert.Equal(t, true, body["released"])
	assert.False(t, f.lock.Status().Locked)
}

func TestRunRoundEndpoint(t *testing.T) {
	f := newFixture(t)
	f.runner.On("RunRound", mock.Anything).Return(engine.RoundReport{RoundID: "r1", Holder: "http"}, nil).Once()
	f.runner.On("RunRound", mock.Anything).Return(engine.RoundReport{
		RoundID:  "r2",
		Skipped:  true,
		Existing: &tradelock.Record{Holder: "scheduler"},
	}, nil).Once()
	f.runner.On("RunRound", mock.Anything).Return(engine.RoundReport{}, errors.New("limiter closed")).Once()

	rec, body := f.do(t, http.MethodPost, "/api/live/rounds/run", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", body["round_id"])

	rec, body = f.do(t, http.MethodPost, "/api/live/rounds/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "scheduler", body["existing_lock"].(map[string]any)["holder"])

	rec, _ = f.do(t, http.MethodPost, "/api/live/rounds/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	f.runner.AssertExpectations(t)
}

func TestAuditEndpoints(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	f.auditLog.On("ListRounds", mock.Anything, 2).Return([]audit.RoundRecord{{RoundID: "r9", StartedAt: ts}}, nil)
	f.auditLog.On("ListActivations", mock.Anything, "alpha", defaultListLimit).
		Return([]circuit.Activation{{Breaker: circuit.Cooldown, AgentID: "alpha", Timestamp: ts}}, nil)

	rec, body := f.do(t, http.MethodGet, "/api/live/rounds?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rounds := body["rounds"].([]any)
	require.Len(t, rounds, 1)
	assert.Equal(t, "r9", rounds[0].(map[string]any)["round_id"])

	rec, body = f.do(t, http.MethodGet, "/api/live/activations/history?agent_id=alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["activations"], 1)
	f.auditLog.AssertExpectations(t)
}

func TestRoundsWithoutAuditStore(t *testing.T) {
	handler := newEngine(&Router{}, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/rounds", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServerRequiresRouter(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
	s, err := NewServer(ServerConfig{Router: &Router{}})
	require.NoError(t, err)
	assert.Equal(t, ":9991", s.Addr())
}
