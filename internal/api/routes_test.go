package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"riskguard/internal/bot"
	"riskguard/internal/broker"
	"riskguard/internal/models"
	"riskguard/internal/service"
	"riskguard/pkg/crypto"
	"riskguard/pkg/utils"
)

type testServer struct {
	*httptest.Server
	paper *broker.Paper
	risk  *bot.RiskManager
}

func newTestServer(t *testing.T, tokenHash string) *testServer {
	t.Helper()
	logger := utils.NewNopLogger()

	paper := broker.NewPaper(100000)
	registry := bot.NewStopRegistry(bot.DefaultRegistryOptions(), logger)
	rm, err := bot.NewRiskManager(models.DefaultRiskLimits(), nil, logger)
	if err != nil {
		t.Fatal(err)
	}

	router := SetupRoutes(&Dependencies{
		StopService:         service.NewStopService(registry, paper, logger),
		RiskService:         service.NewRiskService(rm, paper, nil, nil, logger),
		NotificationService: service.NewNotificationService(nil, logger),
		TradeService:        service.NewTradeService(nil),
		AuthTokenHash:       tokenHash,
		Logger:              logger,
	})

	srv := &testServer{Server: httptest.NewServer(router), paper: paper, risk: rm}
	t.Cleanup(srv.Close)
	return srv
}

func (s *testServer) do(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes_StopLifecycle(t *testing.T) {
	srv := newTestServer(t, "")
	srv.paper.SetPosition("AAPL", 10, 100)

	steps := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"set stop from position", http.MethodPost, "/api/v1/stops", `{"symbol":"aapl","kind":"percentage","stop_percentage":5}`, http.StatusOK},
		{"get stop", http.MethodGet, "/api/v1/stops/AAPL", "", http.StatusOK},
		{"list stops", http.MethodGet, "/api/v1/stops", "", http.StatusOK},
		{"set take profit", http.MethodPost, "/api/v1/stops/AAPL/take-profit", `{"take_profit_percentage":10}`, http.StatusOK},
		{"take profit without stop", http.MethodPost, "/api/v1/stops/MSFT/take-profit", `{"take_profit_price":400}`, http.StatusNotFound},
		{"invalid stop", http.MethodPost, "/api/v1/stops", `{"symbol":"AAPL","kind":"fixed","entry_price":100}`, http.StatusUnprocessableEntity},
		{"remove stop", http.MethodDelete, "/api/v1/stops/AAPL", "", http.StatusOK},
		{"remove again", http.MethodDelete, "/api/v1/stops/AAPL", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/api/v1/stops", "", http.StatusMethodNotAllowed},
	}

	for _, step := range steps {
		resp := srv.do(t, step.method, step.path, step.body, "")
		if resp.StatusCode != step.want {
			t.Fatalf("%s: expected %d, got %d", step.name, step.want, resp.StatusCode)
		}
	}
}

func TestRoutes_Risk(t *testing.T) {
	srv := newTestServer(t, "")

	resp := srv.do(t, http.MethodPut, "/api/v1/risk/limits", `{"max_position_size":-5,"max_daily_loss":100,"max_open_positions":1,"risk_per_trade":0.01}`, "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodPost, "/api/v1/risk/halt", `{"reason":"operator"}`, "")
	if resp.StatusCode != http.StatusOK || !srv.risk.IsHalted() {
		t.Fatalf("halt failed: %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodPost, "/api/v1/risk/check", `{"order":{"symbol":"AAPL","side":"buy","qty":1},"ref_price":100}`, "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 while halted, got %d", resp.StatusCode)
	}
	var d models.RiskDecision
	json.NewDecoder(resp.Body).Decode(&d)
	if d.Allowed || d.Reason != models.RejectHalted {
		t.Errorf("unexpected decision: %+v", d)
	}

	resp = srv.do(t, http.MethodPost, "/api/v1/risk/reset", "", "")
	if resp.StatusCode != http.StatusOK || srv.risk.IsHalted() {
		t.Fatalf("reset failed: %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodGet, "/api/v1/risk", "", "")
	var st models.RiskStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Limits != models.DefaultRiskLimits() {
		t.Errorf("rejected limits must not apply: %+v", st.Limits)
	}
}

func TestRoutes_Auth(t *testing.T) {
	hash, err := crypto.HashToken("dash-token", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, hash)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"api without token", http.MethodGet, "/api/v1/stops", "", http.StatusUnauthorized},
		{"api with token", http.MethodGet, "/api/v1/stops", "dash-token", http.StatusOK},
		{"api with wrong token", http.MethodGet, "/api/v1/risk", "other", http.StatusUnauthorized},
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"preflight is public", http.MethodOptions, "/api/v1/stops", "", http.StatusOK},
		{"monitor not configured", http.MethodGet, "/api/v1/monitor", "dash-token", http.StatusServiceUnavailable},
		{"trades without db", http.MethodGet, "/api/v1/trades", "dash-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, tt.method, tt.path, "", tt.token)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
