package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskguard/internal/bot"
	"riskguard/internal/broker"
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

type riskFixture struct {
	svc      *RiskService
	risk     *bot.RiskManager
	paper    *broker.Paper
	settings *MockSettingsRepository
	trades   *MockTradeRepository
	hub      *MockHub
}

func newRiskFixture(t *testing.T) *riskFixture {
	t.Helper()
	rm, err := bot.NewRiskManager(models.DefaultRiskLimits(), nil, utils.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	f := &riskFixture{
		risk:     rm,
		paper:    broker.NewPaper(10000),
		settings: NewMockSettingsRepository(),
		trades:   NewMockTradeRepository(),
		hub:      &MockHub{},
	}
	f.svc = NewRiskService(rm, f.paper, f.settings, f.trades, utils.NewNopLogger())
	f.svc.SetWebSocketHub(f.hub)
	return f
}

func TestRiskService_ConfigureLimits(t *testing.T) {
	tests := []struct {
		name       string
		limits     models.RiskLimits
		saveErr    error
		expectErr  error
		expectSave int
	}{
		{
			name:       "valid limits saved",
			limits:     models.RiskLimits{MaxPositionSize: 2000, MaxDailyLoss: 300, MaxOpenPositions: 3, RiskPerTrade: 0.01},
			expectSave: 1,
		},
		{
			name:      "invalid limits rejected",
			limits:    models.RiskLimits{MaxPositionSize: -1, MaxDailyLoss: 300, MaxOpenPositions: 3, RiskPerTrade: 0.01},
			expectErr: models.ErrValidation,
		},
		{
			name:    "persistence failure keeps limits active",
			limits:  models.RiskLimits{MaxPositionSize: 2000, MaxDailyLoss: 300, MaxOpenPositions: 3, RiskPerTrade: 0.01},
			saveErr: errors.New("db down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRiskFixture(t)
			f.settings.saveErr = tt.saveErr

			st, err := f.svc.ConfigureLimits(context.Background(), tt.limits)

			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Errorf("expected %v, got %v", tt.expectErr, err)
				}
				if f.risk.Limits() != models.DefaultRiskLimits() {
					t.Error("rejected limits must not replace the active set")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if st.Limits != tt.limits {
				t.Errorf("expected %+v, got %+v", tt.limits, st.Limits)
			}
			if f.settings.saved != tt.expectSave {
				t.Errorf("expected %d saves, got %d", tt.expectSave, f.settings.saved)
			}
			if len(f.hub.risk) != 1 {
				t.Errorf("expected 1 broadcast, got %d", len(f.hub.risk))
			}
		})
	}
}

func TestRiskService_Restore(t *testing.T) {
	f := newRiskFixture(t)
	stored := models.RiskLimits{MaxPositionSize: 5000, MaxDailyLoss: 200, MaxOpenPositions: 2, RiskPerTrade: 0.01}
	f.settings.limits = &stored
	f.trades.pnlSince = -250

	since := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	f.svc.Restore(context.Background(), since)

	if f.risk.Limits() != stored {
		t.Errorf("limits not restored: %+v", f.risk.Limits())
	}
	if !f.trades.lastSince.Equal(since) {
		t.Errorf("pnl queried since %v, want %v", f.trades.lastSince, since)
	}
	if f.risk.DailyRealizedPnL() != -250 {
		t.Errorf("expected daily pnl -250, got %v", f.risk.DailyRealizedPnL())
	}
	if !f.risk.IsHalted() {
		t.Error("restored loss beyond the limit must halt")
	}
}

func TestRiskService_RestoreWithoutStoredLimits(t *testing.T) {
	f := newRiskFixture(t)
	f.trades.getErr = errors.New("db down")

	f.svc.Restore(context.Background(), time.Now())

	if f.risk.Limits() != models.DefaultRiskLimits() {
		t.Error("defaults must stay when nothing is stored")
	}
	if f.risk.IsHalted() {
		t.Error("unexpected halt")
	}
}

func TestRiskService_PositionSize(t *testing.T) {
	f := newRiskFixture(t)

	account := &models.AccountInfo{PortfolioValue: 10000, BuyingPower: 10000, Cash: 10000}
	resp, err := f.svc.PositionSize(context.Background(), &PositionSizeRequest{EntryPrice: 100, StopPrice: 90, Account: account})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10000 * 0.02 / 10 = 20 шт, ограничено 1000 / 100 = 10
	if resp.Quantity != 10 {
		t.Errorf("expected 10, got %v", resp.Quantity)
	}
	if resp.Notional > models.DefaultRiskLimits().MaxPositionSize {
		t.Errorf("notional %v exceeds max position size", resp.Notional)
	}

	if _, err := f.svc.PositionSize(context.Background(), &PositionSizeRequest{EntryPrice: 100, StopPrice: 100, Account: account}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}

	// без счёта в запросе берётся снимок брокера
	resp, err = f.svc.PositionSize(context.Background(), &PositionSizeRequest{EntryPrice: 50, StopPrice: 49})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Quantity <= 0 || resp.Quantity*50 > models.DefaultRiskLimits().MaxPositionSize {
		t.Errorf("unexpected quantity %v", resp.Quantity)
	}
}

func TestRiskService_CheckOrder(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *riskFixture)
		req     *CheckOrderRequest
		allowed bool
		reason  string
		errorIs error
	}{
		{
			name:    "allowed market order",
			setup:   func(f *riskFixture) { f.paper.SetPrice("AAPL", 100) },
			req:     &CheckOrderRequest{Order: models.OrderRequest{Symbol: "aapl", Side: "BUY", Quantity: 5}},
			allowed: true,
		},
		{
			name:   "notional over max position size",
			setup:  func(f *riskFixture) { f.paper.SetPrice("AAPL", 100) },
			req:    &CheckOrderRequest{Order: models.OrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 50}},
			reason: models.RejectMaxPositionSize,
		},
		{
			name:   "halted",
			setup:  func(f *riskFixture) { f.risk.Halt("operator") },
			req:    &CheckOrderRequest{Order: models.OrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 1}, RefPrice: 100},
			reason: models.RejectHalted,
		},
		{
			name:    "no quote",
			req:     &CheckOrderRequest{Order: models.OrderRequest{Symbol: "ZZZZ", Side: "buy", Quantity: 1}},
			errorIs: models.ErrCollaborator,
		},
		{
			name:    "bad symbol",
			req:     &CheckOrderRequest{Order: models.OrderRequest{Symbol: "", Side: "buy", Quantity: 1}},
			errorIs: models.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRiskFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			d, err := f.svc.CheckOrder(context.Background(), tt.req)

			if tt.errorIs != nil {
				if !errors.Is(err, tt.errorIs) {
					t.Errorf("expected %v, got %v", tt.errorIs, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v (reason %q)", d.Allowed, tt.allowed, d.Reason)
			}
			if d.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestRiskService_HaltAndReset(t *testing.T) {
	f := newRiskFixture(t)

	st := f.svc.Halt("  ")
	if !st.Halt.Halted || st.Halt.Reason != "manual halt" {
		t.Errorf("unexpected halt state: %+v", st.Halt)
	}

	st = f.svc.Reset()
	if st.Halt.Halted {
		t.Error("reset must clear the halt")
	}
	if len(f.hub.risk) != 2 {
		t.Errorf("expected 2 broadcasts, got %d", len(f.hub.risk))
	}
}
