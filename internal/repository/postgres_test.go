package repository

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/barter-system/internal/model"
)

func TestClampDebit(t *testing.T) {
	tests := []struct {
		name        string
		cost        string
		balance     string
		wantDebited string
		wantBalance string
	}{
		{name: "full debit", cost: "70", balance: "100", wantDebited: "70", wantBalance: "30"},
		{name: "exact balance", cost: "100", balance: "100", wantDebited: "100", wantBalance: "0"},
		{name: "clamped to remainder", cost: "70", balance: "50", wantDebited: "50", wantBalance: "0"},
		{name: "empty wallet", cost: "70", balance: "0", wantDebited: "0", wantBalance: "0"},
		{name: "fractional", cost: "10.5", balance: "10.2", wantDebited: "10.2", wantBalance: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			debited, balance := clampDebit(decimal.RequireFromString(tt.cost), decimal.RequireFromString(tt.balance))
			if !debited.Equal(decimal.RequireFromString(tt.wantDebited)) {
				t.Fatalf("debited = %s, want %s", debited, tt.wantDebited)
			}
			if !balance.Equal(decimal.RequireFromString(tt.wantBalance)) {
				t.Fatalf("new balance = %s, want %s", balance, tt.wantBalance)
			}
			if balance.IsNegative() {
				t.Fatalf("balance must never go negative")
			}
		})
	}
}

func TestApplyWalletDebitMovesShortfall(t *testing.T) {
	o := &model.Order{
		WalletCost: decimal.RequireFromString("70"),
		AmountDue:  decimal.RequireFromString("1500"),
	}

	debited, balance := applyWalletDebit(o, decimal.RequireFromString("50"))

	if !debited.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("debited = %s, want 50", debited)
	}
	if !balance.IsZero() {
		t.Fatalf("new balance = %s, want 0", balance)
	}
	if !o.WalletCost.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("order cost = %s, want actually debited 50", o.WalletCost)
	}
	if !o.AmountDue.Equal(decimal.RequireFromString("1520")) {
		t.Fatalf("amount due = %s, want 1520 (surcharge absorbs the shortfall)", o.AmountDue)
	}
}

func TestApplyWalletDebitFullCover(t *testing.T) {
	o := &model.Order{
		WalletCost: decimal.RequireFromString("70"),
		AmountDue:  decimal.RequireFromString("1500"),
	}

	debited, balance := applyWalletDebit(o, decimal.RequireFromString("100"))

	if !debited.Equal(decimal.RequireFromString("70")) {
		t.Fatalf("debited = %s, want 70", debited)
	}
	if !balance.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("new balance = %s, want 30", balance)
	}
	if !o.WalletCost.Equal(decimal.RequireFromString("70")) || !o.AmountDue.Equal(decimal.RequireFromString("1500")) {
		t.Fatalf("covered order must stay unchanged: cost %s, due %s", o.WalletCost, o.AmountDue)
	}
}
