// Package service реализует бизнес-логику сервиса бартерных заказов.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/barter-system/internal/availability"
	"github.com/mmeshcher/barter-system/internal/model"
	"github.com/mmeshcher/barter-system/internal/notify"
)

// ErrInvalidAmount возвращается при неположительной сумме операции с кошельком.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidAction возвращается при неизвестном действии с кошельком.
	ErrInvalidAction = errors.New("unknown wallet action")
	// ErrInvalidStatus возвращается при неизвестном статусе заказа.
	ErrInvalidStatus = errors.New("unknown order status")
	// ErrOrderFinalized возвращается при попытке перевести заказ из терминального состояния.
	ErrOrderFinalized = errors.New("order is in a terminal state")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetSchedule(ctx context.Context, city string) (*model.Schedule, error)
	ListBlockedSlots(ctx context.Context, city string, date time.Time) ([]model.BlockedSlot, error)
	CreateWalletOrder(ctx context.Context, o *model.Order, tag string) (debited, newBalance decimal.Decimal, err error)
	CreateCooldownOrder(ctx context.Context, o *model.Order, tag string, cooldown time.Duration, now time.Time) error
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.OrderSummary, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error
	AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal, add bool) (decimal.Decimal, error)
	CountCompleted(ctx context.Context, userID int64) (int, error)
	PromoteLoyalty(ctx context.Context, userID int64) (bool, error)
	SetSchedule(ctx context.Context, s *model.Schedule) error
	AddBlockedSlot(ctx context.Context, b *model.BlockedSlot) error
}

// Notifier описывает контракт диспетчера уведомлений.
type Notifier interface {
	Send(ctx context.Context, chatID int64, template string, u *model.User) error
	Broadcast(ctx context.Context, text string, tags []string, reporterChatID int64) (notify.BroadcastResult, error)
	NotifyAdmins(ctx context.Context, o *model.Order, u *model.User)
}

// Config — явно передаваемые настройки бизнес-логики.
type Config struct {
	CooldownDays     int
	LoyaltyThreshold int
}

// Service содержит бизнес-логику сервиса бартерных заказов.
type Service struct {
	repo     Repository
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт новый сервис с указанными репозиторием и диспетчером уведомлений.
func NewService(repo Repository, notifier Notifier, cfg Config, logger *zap.Logger) *Service {
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = 7
	}
	if cfg.LoyaltyThreshold <= 0 {
		cfg.LoyaltyThreshold = 5
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrderRequest — входные данные заявки на бартер.
type CreateOrderRequest struct {
	UserID       int64
	City         string
	DeliveryDate time.Time
	DeliveryTime string
	Street       string
	Entrance     string
	Floor        string
	Comment      string
	SetName      string
	WalletCost   decimal.Decimal
	AmountDue    decimal.Decimal
}

// CreateOrder проверяет доступность слота и создаёт заказ в одной
// транзакции с резервированием средств или кулдауна. Уведомление
// операторам отправляется после фиксации транзакции и не влияет на её исход.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	clock, err := availability.ParseClock(req.DeliveryTime)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	schedule, err := s.repo.GetSchedule(ctx, req.City)
	if err != nil {
		return nil, err
	}

	blocked, err := s.repo.ListBlockedSlots(ctx, req.City, req.DeliveryDate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := availability.Validate(schedule, blocked, req.DeliveryDate, clock, now); err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:       req.UserID,
		City:         req.City,
		DeliveryDate: req.DeliveryDate,
		DeliveryTime: req.DeliveryTime,
		Street:       req.Street,
		Entrance:     req.Entrance,
		Floor:        req.Floor,
		Comment:      req.Comment,
		SetName:      req.SetName,
		WalletCost:   req.WalletCost,
		AmountDue:    req.AmountDue,
	}

	tag := CityTag(req.City)

	if req.WalletCost.IsPositive() {
		debited, balance, err := s.repo.CreateWalletOrder(ctx, order, tag)
		if err != nil {
			return nil, err
		}
		s.logger.Info("wallet order admitted",
			zap.String("order", order.Number),
			zap.String("debited", debited.String()),
			zap.String("balance", balance.String()))
	} else {
		cooldown := time.Duration(s.cfg.CooldownDays) * 24 * time.Hour
		if err := s.repo.CreateCooldownOrder(ctx, order, tag, cooldown, now); err != nil {
			return nil, err
		}
	}

	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.notifier.NotifyAdmins(notifyCtx, order, user)
	}()

	return order, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.OrderSummary, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// ManageWallet изменяет баланс пользователя и возвращает новое значение.
func (s *Service) ManageWallet(ctx context.Context, userID int64, amount decimal.Decimal, action string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	switch action {
	case "add":
		return s.repo.AdjustBalance(ctx, userID, amount, true)
	case "remove":
		return s.repo.AdjustBalance(ctx, userID, amount, false)
	default:
		return decimal.Decimal{}, ErrInvalidAction
	}
}

// Broadcast запускает фоновую рассылку и возвращает управление сразу.
// Начатая рассылка идёт до конца или до остановки процесса.
func (s *Service) Broadcast(text string, tags []string, reporterChatID int64) {
	go func() {
		if _, err := s.notifier.Broadcast(context.Background(), text, tags, reporterChatID); err != nil {
			s.logger.Error("broadcast failed", zap.Error(err))
		}
	}()
}

// SetSchedule заменяет недельное расписание города.
func (s *Service) SetSchedule(ctx context.Context, schedule *model.Schedule) error {
	return s.repo.SetSchedule(ctx, schedule)
}

// AddBlockedSlot создаёт разовую блокировку слота или даты.
func (s *Service) AddBlockedSlot(ctx context.Context, b *model.BlockedSlot) error {
	return s.repo.AddBlockedSlot(ctx, b)
}

// CityTag приводит название города к тегу аудитории.
func CityTag(city string) string {
	return strings.ReplaceAll(strings.ToLower(city), " ", "-")
}
