// Package scheduler содержит фоновые задачи сверки состояния:
// уведомления об окончании кулдауна, напоминания об отчётах и
// еженедельное начисление баланса.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/barter-system/internal/model"
)

// Срок сдачи отчёта после доставки заказа.
const reportDeadline = 24 * time.Hour

// Repository описывает контракт доступа к данным, используемый задачами сверки.
type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListCooldownCandidates(ctx context.Context) ([]model.User, error)
	ClaimCooldownNotice(ctx context.Context, userID int64) (bool, error)
	ListDueReminders(ctx context.Context, cutoff time.Time) ([]model.Order, error)
	ClaimReminder(ctx context.Context, orderID int64) (bool, error)
	ListTopUpDue(ctx context.Context, cutoff time.Time) ([]model.User, error)
	GrantAllowance(ctx context.Context, userID int64, cutoff, now time.Time) (balance decimal.Decimal, granted bool, err error)
}

// Notifier описывает контракт отправки персональных уведомлений.
type Notifier interface {
	Send(ctx context.Context, chatID int64, template string, u *model.User) error
}

// Config — интервалы запуска задач и срок кулдауна.
type Config struct {
	CooldownDays     int
	CooldownInterval time.Duration
	ReminderInterval time.Duration
	TopUpInterval    time.Duration
}

// Scheduler запускает периодические задачи сверки. Задачи независимы,
// безопасны при конкурентных и перекрывающихся запусках: каждый защитный
// флаг захватывается условным обновлением до отправки уведомления.
type Scheduler struct {
	repo     Repository
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New создаёт планировщик задач сверки.
func New(repo Repository, notifier Notifier, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = 7
	}
	if cfg.CooldownInterval <= 0 {
		cfg.CooldownInterval = 24 * time.Hour
	}
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = time.Hour
	}
	if cfg.TopUpInterval <= 0 {
		cfg.TopUpInterval = 24 * time.Hour
	}
	return &Scheduler{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run запускает все задачи и блокируется до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	go s.loop(ctx, s.cfg.CooldownInterval, s.runCooldownNotices)
	go s.loop(ctx, s.cfg.ReminderInterval, s.runReportReminders)
	go s.loop(ctx, s.cfg.TopUpInterval, s.runWeeklyTopUps)
	<-ctx.Done()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, job func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// runCooldownNotices уведомляет пользователей без кошелька о том, что
// кулдаун истёк и можно оформить новый заказ.
func (s *Scheduler) runCooldownNotices(ctx context.Context) {
	users, err := s.repo.ListCooldownCandidates(ctx)
	if err != nil {
		s.logger.Error("list cooldown candidates failed", zap.Error(err))
		return
	}

	now := s.now()
	cooldown := time.Duration(s.cfg.CooldownDays) * 24 * time.Hour

	for i := range users {
		u := &users[i]
		if u.LastOrderAt == nil || now.Before(u.LastOrderAt.Add(cooldown)) {
			continue
		}
		if u.TelegramID == nil {
			continue
		}

		claimed, err := s.repo.ClaimCooldownNotice(ctx, u.ID)
		if err != nil {
			s.logger.Error("claim cooldown notice failed", zap.Int64("userID", u.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		text := "👋 {firstName}, отличные новости! Вы снова можете оформить заказ на бартер. Ждём вашу заявку!"
		if err := s.notifier.Send(ctx, *u.TelegramID, text, u); err != nil {
			s.logger.Warn("cooldown notice failed", zap.Int64("userID", u.ID), zap.Error(err))
		}
	}
}

// runReportReminders напоминает владельцам доставленных заказов об отчёте
// спустя 24 часа. Заказы пользователей без привязанного чата тоже
// помечаются, чтобы не обрабатываться бесконечно.
func (s *Scheduler) runReportReminders(ctx context.Context) {
	cutoff := s.now().Add(-reportDeadline)

	orders, err := s.repo.ListDueReminders(ctx, cutoff)
	if err != nil {
		s.logger.Error("list due reminders failed", zap.Error(err))
		return
	}

	for i := range orders {
		o := &orders[i]

		claimed, err := s.repo.ClaimReminder(ctx, o.ID)
		if err != nil {
			s.logger.Error("claim reminder failed", zap.Int64("orderID", o.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		user, err := s.repo.GetUserByID(ctx, o.UserID)
		if err != nil {
			s.logger.Warn("reminder owner lookup failed", zap.Int64("userID", o.UserID), zap.Error(err))
			continue
		}
		if user.TelegramID == nil {
			continue
		}

		text := fmt.Sprintf("🔔 Напоминание: Прошло 24 часа с момента доставки вашего заказа *%s*. Пожалуйста, не забудьте сдать отчёт в личном кабинете.", o.Number)
		if err := s.notifier.Send(ctx, *user.TelegramID, text, user); err != nil {
			s.logger.Warn("report reminder failed", zap.String("order", o.Number), zap.Error(err))
		}
	}
}

// runWeeklyTopUps восстанавливает баланс до недельного лимита спустя
// семь дней после прошлого начисления и уведомляет пользователя.
func (s *Scheduler) runWeeklyTopUps(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-7 * 24 * time.Hour)

	users, err := s.repo.ListTopUpDue(ctx, cutoff)
	if err != nil {
		s.logger.Error("list top-up due failed", zap.Error(err))
		return
	}

	for i := range users {
		u := &users[i]

		balance, granted, err := s.repo.GrantAllowance(ctx, u.ID, cutoff, now)
		if err != nil {
			s.logger.Error("grant allowance failed", zap.Int64("userID", u.ID), zap.Error(err))
			continue
		}
		if !granted || u.TelegramID == nil {
			continue
		}

		text := fmt.Sprintf("💰 {firstName}, ваш баланс обновлён: %s VC. Приятных заказов!", balance.StringFixed(1))
		if err := s.notifier.Send(ctx, *u.TelegramID, text, u); err != nil {
			s.logger.Warn("top-up notice failed", zap.Int64("userID", u.ID), zap.Error(err))
		}
	}
}
