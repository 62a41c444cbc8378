package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradegate/internal/agent/engine"
	"tradegate/internal/config"
	"tradegate/internal/decision"
	"tradegate/internal/metrics"
	"tradegate/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	id       string
	proposal decision.Decision
}

func (a stubAgent) ID() string { return a.id }

func (a stubAgent) Decide(context.Context, decision.Portfolio) (decision.Decision, error) {
	return a.proposal, nil
}

type stubBackend struct {
	portfolio decision.Portfolio

	mu       sync.Mutex
	executed []decision.Decision
}

func (b *stubBackend) Portfolio(context.Context, string) (decision.Portfolio, error) {
	return b.portfolio, nil
}

func (b *stubBackend) Execute(_ context.Context, _ string, d decision.Decision) error {
	b.mu.Lock()
	b.executed = append(b.executed, d)
	b.mu.Unlock()
	return nil
}

type chanNotifier chan string

func (c chanNotifier) SendText(_ context.Context, text string) error {
	c <- text
	return nil
}

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuild_RoundThroughHTTP(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	cfg := loadConfig(t, `
app:
  http_addr: 127.0.0.1:0
breaker:
  max_trade_notional: 50
  cooldown_seconds: 0
audit:
  enabled: true
  path: `+dbPath+`
`)
	backend := &stubBackend{portfolio: decision.Portfolio{CashBalance: 1000, TotalValue: 1000}}
	a, err := NewApp(cfg, WithBackend(&Backend{
		Agents:     []engine.Agent{stubAgent{id: "grok", proposal: decision.Decision{Action: decision.ActionBuy, Symbol: "AAPL", Quantity: 200, Confidence: 0.8}}},
		Portfolios: backend,
		Executor:   backend,
	}))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	h := a.Handler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/live/rounds/run", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, backend.executed, 1)
	assert.Equal(t, 50.0, backend.executed[0].Quantity)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/activations/history?agent_id=grok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Activations []circuit.Activation `json:"activations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Activations, 1)
	assert.Equal(t, circuit.MaxTradeSize, history.Activations[0].Breaker)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/rounds", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"executed":1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tradegate_breaker_activations_total{breaker="MAX_TRADE_SIZE",outcome="clamped"} 1`)
	assert.Contains(t, rec.Body.String(), `tradegate_rounds_total{result="completed"} 1`)
}

func TestBuild_WithoutBackendOrAudit(t *testing.T) {
	cfg := loadConfig(t, "app:\n  http_addr: 127.0.0.1:0\n")
	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Empty(t, a.Engine().Agents)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/rounds", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var buf bytes.Buffer
	a.Summary.Write(&buf)
	assert.Contains(t, buf.String(), "CIRCUIT BREAKER")
	assert.Contains(t, buf.String(), "llm")
}

func TestClose_StopsConfigWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  http_addr: 127.0.0.1:0\nbreaker:\n  max_daily_trades: 4\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	a, err := NewApp(cfg, WithConfigPath(path))
	require.NoError(t, err)
	require.NotNil(t, a.watcher)

	require.NoError(t, os.WriteFile(path, []byte("app:\n  http_addr: 127.0.0.1:0\nbreaker:\n  max_daily_trades: 6\n"), 0o644))
	require.Eventually(t, func() bool {
		return a.Breaker().Config().MaxDailyTrades == 6
	}, 5*time.Second, 20*time.Millisecond)

	a.Close()
	assert.Nil(t, a.watcher)
	a.Close()

	require.NoError(t, os.WriteFile(path, []byte("app:\n  http_addr: 127.0.0.1:0\nbreaker:\n  max_daily_trades: 9\n"), 0o644))
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 6, a.Breaker().Config().MaxDailyTrades)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := loadConfig(t, "app:\n  http_addr: 127.0.0.1:0\n")
	a, err := NewApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}

func TestActivationFanout_NotifiesBlockedOnly(t *testing.T) {
	reg := metrics.NewRegistry(nil, nil, nil)
	sent := make(chanNotifier, 2)
	handle := activationFanout(context.Background(), reg, nil, sent)

	handle(circuit.Activation{Breaker: circuit.MaxTradeSize, AgentID: "grok", Outcome: circuit.OutcomeClamped, Timestamp: time.Now()})
	handle(circuit.Activation{Breaker: circuit.Cooldown, AgentID: "claude", Outcome: circuit.OutcomeBlocked, Timestamp: time.Now(), Details: "cooldown active"})

	select {
	case text := <-sent:
		assert.Contains(t, text, "cooldown")
		assert.Contains(t, text, "claude")
	case <-time.After(5 * time.Second):
		t.Fatal("blocked activation was not sent")
	}
	select {
	case text := <-sent:
		t.Fatalf("unexpected notification: %s", text)
	case <-time.After(50 * time.Millisecond):
	}
}
