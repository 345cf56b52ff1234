package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/barter-system/internal/model"
	"github.com/mmeshcher/barter-system/internal/notify"
)

// transitions — допустимые переходы статусов заказа.
// Терминальные состояния (completed, rejected) отсутствуют в качестве ключей.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusNew:            {model.OrderStatusConfirmed, model.OrderStatusRejected},
	model.OrderStatusConfirmed:      {model.OrderStatusDelivered, model.OrderStatusRejected},
	model.OrderStatusDelivered:      {model.OrderStatusAwaitingReview},
	model.OrderStatusAwaitingReview: {model.OrderStatusCompleted},
}

func isKnownStatus(s model.OrderStatus) bool {
	switch s {
	case model.OrderStatusNew, model.OrderStatusConfirmed, model.OrderStatusDelivered,
		model.OrderStatusAwaitingReview, model.OrderStatusCompleted, model.OrderStatusRejected:
		return true
	}
	return false
}

// UpdateOrderStatus переводит заказ в новый статус по машине состояний.
// Владелец уведомляется по мере возможности; переход в completed запускает
// оценку лояльности.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus model.OrderStatus) error {
	if !isKnownStatus(newStatus) {
		return ErrInvalidStatus
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	allowed, ok := transitions[order.Status]
	if !ok {
		return ErrOrderFinalized
	}

	permitted := false
	for _, st := range allowed {
		if st == newStatus {
			permitted = true
			break
		}
	}
	if !permitted {
		return ErrInvalidTransition
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, order.Status, newStatus); err != nil {
		return err
	}
	order.Status = newStatus

	s.notifyOwner(ctx, order)

	if newStatus == model.OrderStatusCompleted {
		s.evaluateLoyalty(ctx, order.UserID)
	}

	return nil
}

// notifyOwner отправляет владельцу заказа уведомление о новом статусе.
// Ошибки отправки логируются и не влияют на результат перехода.
func (s *Service) notifyOwner(ctx context.Context, order *model.Order) {
	text := notify.StatusMessage(order)
	if text == "" {
		return
	}

	user, err := s.repo.GetUserByID(ctx, order.UserID)
	if err != nil {
		s.logger.Warn("owner lookup failed", zap.Int64("userID", order.UserID), zap.Error(err))
		return
	}
	if user.TelegramID == nil {
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.Send(sendCtx, *user.TelegramID, text, user); err != nil {
			s.logger.Warn("status notification failed",
				zap.String("order", order.Number), zap.Error(err))
		}
	}()
}

// evaluateLoyalty повышает пользователя до premium после порогового числа
// завершённых заказов. Повторная оценка уже premium-пользователя — no-op.
func (s *Service) evaluateLoyalty(ctx context.Context, userID int64) {
	count, err := s.repo.CountCompleted(ctx, userID)
	if err != nil {
		s.logger.Error("count completed failed", zap.Int64("userID", userID), zap.Error(err))
		return
	}
	if count < s.cfg.LoyaltyThreshold {
		return
	}

	promoted, err := s.repo.PromoteLoyalty(ctx, userID)
	if err != nil {
		s.logger.Error("promote loyalty failed", zap.Int64("userID", userID), zap.Error(err))
		return
	}
	if !promoted {
		return
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil || user.TelegramID == nil {
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		text := "🏆 {firstName}, поздравляем! Вы получили статус *premium* за активное сотрудничество."
		if err := s.notifier.Send(sendCtx, *user.TelegramID, text, user); err != nil {
			s.logger.Warn("loyalty notification failed", zap.Int64("userID", userID), zap.Error(err))
		}
	}()
}
