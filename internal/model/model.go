// Package model содержит доменные сущности сервиса бартерных заказов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoyaltyStatus описывает уровень лояльности блогера.
type LoyaltyStatus string

const (
	LoyaltyStandard LoyaltyStatus = "standard"
	LoyaltyPremium  LoyaltyStatus = "premium"
)

// User представляет зарегистрированного блогера.
// Поля кошелька, кулдауна и лояльности изменяются только транзакциями репозитория.
type User struct {
	ID                 int64
	TelegramID         *int64
	FirstName          string
	Instagram          string
	Followers          int64
	AvgViews           int64
	Balance            decimal.Decimal
	Allowance          decimal.Decimal
	LastAllowanceGrant *time.Time
	LastOrderAt        *time.Time
	CooldownNotified   bool
	Strikes            int
	LoyaltyStatus      LoyaltyStatus
	Tags               []string
	CreatedAt          time.Time
}

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusNew            OrderStatus = "new"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusAwaitingReview OrderStatus = "awaiting_review"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusRejected       OrderStatus = "rejected"
)

// Order описывает одну бартерную заявку.
// WalletCost > 0 означает оплату с кошелька, иначе это заказ набора с кулдауном.
type Order struct {
	ID           int64
	Number       string
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
	Status       OrderStatus
	ReminderSent bool
	CreatedAt    time.Time
}

// OrderSummary — облегчённая проекция заказа для списков пользователя.
type OrderSummary struct {
	ID        int64     `json:"id"`
	Number    string    `json:"number"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Interval — полуоткрытый интервал [Start, End) в минутах от полуночи.
type Interval struct {
	Start int
	End   int
}

// Contains сообщает, попадает ли момент t (в минутах от полуночи) в интервал.
func (i Interval) Contains(t int) bool {
	return t >= i.Start && t < i.End
}

// Schedule — недельное расписание доставки для одного города.
type Schedule struct {
	City string
	Days map[time.Weekday][]Interval
}

// BlockedSlot — разовое исключение из расписания на конкретную дату.
// FullDay блокирует дату целиком, иначе действует интервал [Start, End).
type BlockedSlot struct {
	City    string
	Date    time.Time
	FullDay bool
	Start   int
	End     int
}

// Admin описывает оператора, получающего служебные уведомления.
type Admin struct {
	ChatID                int64
	ReceivesNotifications bool
}
