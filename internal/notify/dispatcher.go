// Package notify отвечает за форматирование и рассылку персональных уведомлений.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/barter-system/internal/model"
)

// Ограничение внешнего канала: не более 10 сообщений в секунду.
const sendInterval = 100 * time.Millisecond

// Sender описывает контракт внешнего канала доставки сообщений.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Audience описывает доступ к получателям рассылок.
type Audience interface {
	ListRecipients(ctx context.Context, tags []string) ([]model.User, error)
	ListAdmins(ctx context.Context) ([]model.Admin, error)
}

// BroadcastResult — итог рассылки, отправляемый инициатору.
type BroadcastResult struct {
	Success int
	Errors  int
}

// Dispatcher выполняет персонализацию и веерную рассылку сообщений
// с соблюдением лимита внешнего канала.
type Dispatcher struct {
	sender   Sender
	audience Audience
	logger   *zap.Logger
	limiter  *rate.Limiter
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(sender Sender, audience Audience, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		audience: audience,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(sendInterval), 1),
	}
}

// Send отправляет персонализированное сообщение одному получателю.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, template string, u *model.User) error {
	return d.sender.SendMessage(ctx, chatID, Personalize(template, u))
}

// Broadcast рассылает сообщение аудитории, отфильтрованной по тегам,
// и отправляет инициатору итоговую сводку. Ошибка одного получателя не
// прерывает рассылку; получатели без привязанного чата считаются ошибками.
func (d *Dispatcher) Broadcast(ctx context.Context, text string, tags []string, reporterChatID int64) (BroadcastResult, error) {
	var res BroadcastResult

	recipients, err := d.audience.ListRecipients(ctx, tags)
	if err != nil {
		d.report(ctx, reporterChatID, fmt.Sprintf("❌ Произошла критическая ошибка во время рассылки: %v", err))
		return res, fmt.Errorf("list recipients: %w", err)
	}

	if len(recipients) == 0 {
		d.report(ctx, reporterChatID, "⚠️ Рассылка завершена. Не найдено пользователей по вашим критериям.")
		return res, nil
	}

	for i := range recipients {
		u := &recipients[i]
		if u.TelegramID == nil {
			res.Errors++
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return res, err
		}

		if err := d.sender.SendMessage(ctx, *u.TelegramID, Personalize(text, u)); err != nil {
			d.logger.Warn("broadcast send failed",
				zap.Int64("chatID", *u.TelegramID), zap.Error(err))
			res.Errors++
			continue
		}
		res.Success++
	}

	d.report(ctx, reporterChatID,
		fmt.Sprintf("✅ Рассылка завершена!\n\nУспешно отправлено: %d\nОшибок: %d", res.Success, res.Errors))

	return res, nil
}

// NotifyAdmins отправляет карточку новой заявки всем операторам,
// подписанным на уведомления.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, o *model.Order, u *model.User) {
	admins, err := d.audience.ListAdmins(ctx)
	if err != nil {
		d.logger.Error("list admins failed", zap.Error(err))
		return
	}

	text := FormatAdminAlert(o, u)
	for _, a := range admins {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.sender.SendMessage(ctx, a.ChatID, text); err != nil {
			d.logger.Warn("admin alert failed", zap.Int64("chatID", a.ChatID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) report(ctx context.Context, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	if err := d.sender.SendMessage(ctx, chatID, text); err != nil {
		d.logger.Warn("report to initiator failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

// FormatAdminAlert форматирует карточку новой заявки для операторов.
func FormatAdminAlert(o *model.Order, u *model.User) string {
	text := fmt.Sprintf("*Новая заявка на бартер*\n\n"+
		"📝 *Заказ:* `%s`\n"+
		"👤 *Блогер:*\n"+
		"Имя: %s\n"+
		"Instagram: %s\n"+
		"Уровень: %s",
		o.Number, u.FirstName, InstagramLink(u.Instagram), Tier(u.Followers))

	if o.WalletCost.IsPositive() {
		text += fmt.Sprintf("\n\n*Стоимость:* %s VC\n*К доплате:* *%s ₸*",
			o.WalletCost.StringFixed(1), o.AmountDue.StringFixed(0))
	} else if o.SetName != "" {
		text += fmt.Sprintf("\n🍱 *Выбранный набор:* %s", o.SetName)
	}

	comment := o.Comment
	if comment == "" {
		comment = "-"
	}

	text += fmt.Sprintf("\n\n🗓 *Доставка:*\n"+
		"Дата: %s в %s\n"+
		"Город: %s\n"+
		"Адрес: %s, п. %s, эт. %s\n"+
		"Комментарий: %s",
		o.DeliveryDate.Format("02.01.2006"), o.DeliveryTime,
		o.City, o.Street, orDash(o.Entrance), orDash(o.Floor), comment)

	return text
}

// StatusMessage возвращает текст уведомления владельцу заказа о смене статуса.
// Для статусов без уведомления возвращает пустую строку.
func StatusMessage(o *model.Order) string {
	switch o.Status {
	case model.OrderStatusConfirmed:
		return fmt.Sprintf("✅ Ваш заказ *%s* подтверждён. Мы свяжемся с вами перед доставкой.", o.Number)
	case model.OrderStatusDelivered:
		return fmt.Sprintf("🚚 Заказ *%s* доставлен. Не забудьте сдать отчёт в течение 24 часов.", o.Number)
	case model.OrderStatusAwaitingReview:
		return fmt.Sprintf("📋 Отчёт по заказу *%s* получен и ожидает проверки.", o.Number)
	case model.OrderStatusCompleted:
		return fmt.Sprintf("🎉 Заказ *%s* завершён. Спасибо за сотрудничество!", o.Number)
	case model.OrderStatusRejected:
		return fmt.Sprintf("❌ К сожалению, заказ *%s* отклонён.", o.Number)
	default:
		return ""
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
