package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/barter-system/internal/availability"
	"github.com/mmeshcher/barter-system/internal/model"
	"github.com/mmeshcher/barter-system/internal/notify"
	"github.com/mmeshcher/barter-system/internal/repository"
)

type stubRepo struct {
	mu sync.Mutex

	user    *model.User
	userErr error

	schedule *model.Schedule
	blocked  []model.BlockedSlot

	walletOrders   []*model.Order
	walletErr      error
	cooldownOrders []*model.Order
	cooldownErr    error

	order          *model.Order
	orderErr       error
	statusUpdates  []model.OrderStatus
	updateErr      error
	completedCount int
	completedErr   error
	promoteCalls   int
	promoted       bool

	balance    decimal.Decimal
	balanceErr error

	summaries []model.OrderSummary
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) GetSchedule(ctx context.Context, city string) (*model.Schedule, error) {
	return s.schedule, nil
}

func (s *stubRepo) ListBlockedSlots(ctx context.Context, city string, date time.Time) ([]model.BlockedSlot, error) {
	return s.blocked, nil
}

func (s *stubRepo) CreateWalletOrder(ctx context.Context, o *model.Order, tag string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.walletErr != nil {
		return decimal.Decimal{}, decimal.Decimal{}, s.walletErr
	}
	o.Number = "B-000001"
	o.Status = model.OrderStatusNew
	s.walletOrders = append(s.walletOrders, o)
	return o.WalletCost, decimal.Zero, nil
}

func (s *stubRepo) CreateCooldownOrder(ctx context.Context, o *model.Order, tag string, cooldown time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldownErr != nil {
		return s.cooldownErr
	}
	o.Number = "B-000002"
	o.Status = model.OrderStatusNew
	s.cooldownOrders = append(s.cooldownOrders, o)
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.OrderSummary, error) {
	return s.summaries, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.statusUpdates = append(s.statusUpdates, to)
	return nil
}

func (s *stubRepo) AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal, add bool) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *stubRepo) CountCompleted(ctx context.Context, userID int64) (int, error) {
	return s.completedCount, s.completedErr
}

func (s *stubRepo) PromoteLoyalty(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteCalls++
	if s.promoted {
		return false, nil
	}
	s.promoted = true
	return true, nil
}

func (s *stubRepo) SetSchedule(ctx context.Context, sch *model.Schedule) error { return nil }

func (s *stubRepo) AddBlockedSlot(ctx context.Context, b *model.BlockedSlot) error { return nil }

type stubNotifier struct {
	mu         sync.Mutex
	sent       []string
	adminCalls int
	broadcasts int
}

func (n *stubNotifier) Send(ctx context.Context, chatID int64, template string, u *model.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, template)
	return nil
}

func (n *stubNotifier) Broadcast(ctx context.Context, text string, tags []string, reporterChatID int64) (notify.BroadcastResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts++
	return notify.BroadcastResult{}, nil
}

func (n *stubNotifier) NotifyAdmins(ctx context.Context, o *model.Order, u *model.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adminCalls++
}

func newTestService(repo *stubRepo, notifier *stubNotifier) *Service {
	svc := NewService(repo, notifier, Config{CooldownDays: 7, LoyaltyThreshold: 5}, zap.NewNop())
	return svc
}

func testUser() *model.User {
	return &model.User{
		ID:        1,
		FirstName: "Aliya",
		Instagram: "@aliya",
		Followers: 5000,
	}
}

func mondaySchedule() *model.Schedule {
	return &model.Schedule{
		City: "Almaty",
		Days: map[time.Weekday][]model.Interval{
			time.Monday: {{Start: 600, End: 1080}},
		},
	}
}

func fixedNow() time.Time {
	// Среда, следующий понедельник свободен.
	return time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
}

func nextMonday(from time.Time) time.Time {
	d := from.AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

func TestCreateOrder_WalletFunding(t *testing.T) {
	repo := &stubRepo{user: testUser(), schedule: mondaySchedule()}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)
	svc.now = fixedNow

	order, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:       1,
		City:         "Almaty",
		DeliveryDate: nextMonday(fixedNow()),
		DeliveryTime: "12:00",
		WalletCost:   decimal.NewFromInt(70),
	})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if order.Number != "B-000001" {
		t.Fatalf("order number = %q, want B-000001", order.Number)
	}
	if len(repo.walletOrders) != 1 || len(repo.cooldownOrders) != 0 {
		t.Fatalf("wallet funding must go through the wallet transaction")
	}
}

func TestCreateOrder_CooldownFunding(t *testing.T) {
	repo := &stubRepo{user: testUser(), schedule: mondaySchedule()}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)
	svc.now = fixedNow

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:       1,
		City:         "Almaty",
		DeliveryDate: nextMonday(fixedNow()),
		DeliveryTime: "12:00",
		SetName:      "Сет №1",
	})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if len(repo.cooldownOrders) != 1 || len(repo.walletOrders) != 0 {
		t.Fatalf("set order must go through the cooldown transaction")
	}
}

func TestCreateOrder_RejectsOutsideHours(t *testing.T) {
	repo := &stubRepo{user: testUser(), schedule: mondaySchedule()}
	svc := newTestService(repo, &stubNotifier{})
	svc.now = fixedNow

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:       1,
		City:         "Almaty",
		DeliveryDate: nextMonday(fixedNow()),
		DeliveryTime: "09:00",
	})
	if !errors.Is(err, availability.ErrOutsideHours) {
		t.Fatalf("expected ErrOutsideHours, got %v", err)
	}
	if len(repo.walletOrders)+len(repo.cooldownOrders) != 0 {
		t.Fatalf("rejected request must not create an order")
	}
}

func TestCreateOrder_RejectsMalformedTime(t *testing.T) {
	repo := &stubRepo{user: testUser(), schedule: mondaySchedule()}
	svc := newTestService(repo, &stubNotifier{})
	svc.now = fixedNow

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:       1,
		City:         "Almaty",
		DeliveryDate: nextMonday(fixedNow()),
		DeliveryTime: "25:99",
	})
	if !errors.Is(err, availability.ErrBadClock) {
		t.Fatalf("expected ErrBadClock, got %v", err)
	}
	if len(repo.walletOrders)+len(repo.cooldownOrders) != 0 {
		t.Fatalf("malformed time must not create an order")
	}
}

func TestCreateOrder_PropagatesCooldownActive(t *testing.T) {
	repo := &stubRepo{
		user:        testUser(),
		schedule:    mondaySchedule(),
		cooldownErr: repository.ErrCooldownActive,
	}
	svc := newTestService(repo, &stubNotifier{})
	svc.now = fixedNow

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:       1,
		City:         "Almaty",
		DeliveryDate: nextMonday(fixedNow()),
		DeliveryTime: "12:00",
	})
	if !errors.Is(err, repository.ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
}

func TestCreateOrder_UserNotFound(t *testing.T) {
	repo := &stubRepo{userErr: repository.ErrUserNotFound}
	svc := newTestService(repo, &stubNotifier{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:       42,
		City:         "Almaty",
		DeliveryDate: nextMonday(fixedNow()),
		DeliveryTime: "12:00",
	})
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestManageWallet_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubNotifier{})

	if _, err := svc.ManageWallet(context.Background(), 1, decimal.NewFromInt(-10), "add"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.ManageWallet(context.Background(), 1, decimal.NewFromInt(10), "transfer"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestManageWallet_PropagatesInsufficientBalance(t *testing.T) {
	repo := &stubRepo{balanceErr: repository.ErrInsufficientBalance}
	svc := newTestService(repo, &stubNotifier{})

	_, err := svc.ManageWallet(context.Background(), 1, decimal.NewFromInt(100), "remove")
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestCityTag(t *testing.T) {
	tests := []struct {
		city string
		want string
	}{
		{city: "Almaty", want: "almaty"},
		{city: "Ust Kamenogorsk", want: "ust-kamenogorsk"},
		{city: "ASTANA", want: "astana"},
	}
	for _, tt := range tests {
		if got := CityTag(tt.city); got != tt.want {
			t.Fatalf("CityTag(%q) = %q, want %q", tt.city, got, tt.want)
		}
	}
}
