package notify

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/barter-system/internal/model"
)

func TestTier(t *testing.T) {
	tests := []struct {
		followers int64
		want      string
	}{
		{followers: 0, want: "Микроблогер"},
		{followers: 6000, want: "Микроблогер"},
		{followers: 6001, want: "Макроблогер тип A"},
		{followers: 10500, want: "Макроблогер тип A"},
		{followers: 10501, want: "Макроблогер тип B"},
	}
	for _, tt := range tests {
		if got := Tier(tt.followers); got != tt.want {
			t.Fatalf("Tier(%d) = %q, want %q", tt.followers, got, tt.want)
		}
	}
}

func TestRating(t *testing.T) {
	tests := []struct {
		name string
		user model.User
		want float64
	}{
		{
			name: "zero inputs clamp to minimum",
			user: model.User{},
			want: 1,
		},
		{
			name: "strikes only clamp to minimum",
			user: model.User{Strikes: 10},
			want: 1,
		},
		{
			name: "typical blogger",
			user: model.User{Followers: 10000, AvgViews: 1000},
			want: (2.5*4 + 4.5*3) / 25 * 10, // 9.4
		},
		{
			name: "huge audience clamps to maximum",
			user: model.User{Followers: 100000000, AvgViews: 100000000},
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rating(&tt.user)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Rating() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRatingStrikesReduce(t *testing.T) {
	base := model.User{Followers: 10000, AvgViews: 1000}
	penalized := base
	penalized.Strikes = 2

	if Rating(&penalized) >= Rating(&base) {
		t.Fatalf("strikes must lower the rating")
	}
}

func TestPersonalize(t *testing.T) {
	u := &model.User{
		FirstName: "Aliya",
		Instagram: "@aliya_kz",
		Followers: 5000,
		AvgViews:  2000,
	}

	got := Personalize("Привет, {firstName}! Профиль {instagramLogin}, уровень {level}, подписчиков {followersCount}, рейтинг {rating}.", u)

	for _, want := range []string{
		"Привет, Aliya!",
		"[@aliya_kz](https://www.instagram.com/aliya_kz)",
		"Микроблогер",
		"подписчиков 5000",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Personalize() = %q, must contain %q", got, want)
		}
	}
	if strings.Contains(got, "{") {
		t.Fatalf("Personalize() left unresolved placeholders: %q", got)
	}
}

func TestPersonalizeNilUser(t *testing.T) {
	const tpl = "Привет, {firstName}!"
	if got := Personalize(tpl, nil); got != tpl {
		t.Fatalf("Personalize(nil) = %q, want template unchanged", got)
	}
}

func TestFormatAdminAlertFundingModes(t *testing.T) {
	u := &model.User{FirstName: "Aliya", Instagram: "aliya", Followers: 12000}

	wallet := &model.Order{Number: "B-000001", City: "Almaty", DeliveryTime: "12:00"}
	wallet.WalletCost = decimal.NewFromInt(70)
	wallet.AmountDue = decimal.NewFromInt(1500)

	got := FormatAdminAlert(wallet, u)
	if !strings.Contains(got, "70.0 VC") || !strings.Contains(got, "1500 ₸") {
		t.Fatalf("wallet order alert must show cost and due amount, got %q", got)
	}

	set := &model.Order{Number: "B-000002", City: "Almaty", DeliveryTime: "12:00", SetName: "Сет №1"}
	got = FormatAdminAlert(set, u)
	if !strings.Contains(got, "Сет №1") {
		t.Fatalf("set order alert must show the set name, got %q", got)
	}
}
