package utils

import (
	"errors"
	"math"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"stock", "AAPL", false},
		{"class share", "BRK.B", false},
		{"crypto pair", "BTC/USD", false},
		{"single letter", "F", false},
		{"digits", "1INCH", false},

		{"empty", "", true},
		{"lowercase", "aapl", true},
		{"too long", "ABCDEFGHIJKLMNOP", true},
		{"special chars", "AA@PL", true},
		{"spaces", "AA PL", true},
		{"leading dot", ".AAPL", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSymbol) {
				t.Errorf("expected ErrInvalidSymbol, got %v", err)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"aapl":    "AAPL",
		"  msft ": "MSFT",
		"brk.b":   "BRK.B",
		"btc/usd": "BTC/USD",
		"TSLA":    "TSLA",
	}

	for input, expected := range tests {
		if got := NormalizeSymbol(input); got != expected {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", input, got, expected)
		}
	}
	if !IsValidSymbol("aapl") {
		t.Error("IsValidSymbol should normalize before validating")
	}
}

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		pct     float64
		wantErr bool
	}{
		{2, false},
		{0.5, false},
		{99.9, false},
		{0, true},
		{-1, true},
		{100, true},
		{math.NaN(), true},
	}

	for _, tt := range tests {
		err := ValidatePercentage(tt.pct)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePercentage(%v) error = %v, wantErr %v", tt.pct, err, tt.wantErr)
		}
	}
}

func TestValidatePriceAndQuantity(t *testing.T) {
	if err := ValidatePrice(95); err != nil {
		t.Errorf("ValidatePrice(95) = %v", err)
	}
	for _, bad := range []float64{0, -1, math.Inf(1), math.NaN()} {
		if err := ValidatePrice(bad); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("ValidatePrice(%v) = %v, want ErrInvalidPrice", bad, err)
		}
		if err := ValidateQuantity(bad); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("ValidateQuantity(%v) = %v, want ErrInvalidQuantity", bad, err)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors

	errs.AddError("symbol", nil)
	if errs.HasErrors() {
		t.Fatal("AddError(nil) should not add error")
	}

	errs.Add("stop_price", "required for fixed stop")
	errs.AddError("entry_price", ErrInvalidPrice)

	if len(errs) != 2 {
		t.Fatalf("len = %d, want 2", len(errs))
	}
	if errs.Error() == "" {
		t.Error("Error() should not be empty")
	}
	fields := errs.Fields()
	if fields["stop_price"] != "required for fixed stop" {
		t.Errorf("unexpected fields: %v", fields)
	}
}
