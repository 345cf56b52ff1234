// Package handler содержит HTTP-обработчики операторского API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/barter-system/internal/availability"
	"github.com/mmeshcher/barter-system/internal/middleware"
	"github.com/mmeshcher/barter-system/internal/model"
	"github.com/mmeshcher/barter-system/internal/repository"
	"github.com/mmeshcher/barter-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, newStatus model.OrderStatus) error
	ManageWallet(ctx context.Context, userID int64, amount decimal.Decimal, action string) (decimal.Decimal, error)
	Broadcast(text string, tags []string, reporterChatID int64)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.OrderSummary, error)
	SetSchedule(ctx context.Context, s *model.Schedule) error
	AddBlockedSlot(ctx context.Context, b *model.BlockedSlot) error
}

// Handler реализует HTTP-обработчики операторского API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// reason сопоставляет доменной ошибке машинно-читаемый код и HTTP-статус.
// Неизвестные ошибки трактуются как внутренние.
func reason(err error) (string, int) {
	switch {
	case errors.Is(err, availability.ErrTooSoon):
		return "TooSoon", http.StatusConflict
	case errors.Is(err, availability.ErrCityClosed):
		return "CityClosed", http.StatusConflict
	case errors.Is(err, availability.ErrSlotBlocked):
		return "SlotBlocked", http.StatusConflict
	case errors.Is(err, availability.ErrOutsideHours):
		return "OutsideHours", http.StatusConflict
	case errors.Is(err, availability.ErrNoSchedule):
		return "NoSchedule", http.StatusConflict
	case errors.Is(err, repository.ErrCooldownActive):
		return "CooldownActive", http.StatusConflict
	case errors.Is(err, repository.ErrUserNotFound):
		return "UserNotFound", http.StatusNotFound
	case errors.Is(err, repository.ErrOrderNotFound):
		return "OrderNotFound", http.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientBalance):
		return "InsufficientBalance", http.StatusPaymentRequired
	case errors.Is(err, repository.ErrStatusConflict),
		errors.Is(err, service.ErrOrderFinalized),
		errors.Is(err, service.ErrInvalidTransition):
		return "StatusConflict", http.StatusConflict
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, availability.ErrBadClock):
		return "BadRequest", http.StatusBadRequest
	default:
		return "InternalError", http.StatusInternalServerError
	}
}

type createOrderRequest struct {
	UserID     int64           `json:"user_id"`
	City       string          `json:"city"`
	Date       string          `json:"date"`
	Time       string          `json:"time"`
	Street     string          `json:"street"`
	Entrance   string          `json:"entrance"`
	Floor      string          `json:"floor"`
	Comment    string          `json:"comment"`
	SetName    string          `json:"set_name"`
	WalletCost decimal.Decimal `json:"wallet_cost"`
	AmountDue  decimal.Decimal `json:"amount_due"`
}

// CreateOrder принимает заявку на бартер и возвращает номер созданного заказа.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID == 0 || req.City == "" || req.Date == "" || req.Time == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), service.CreateOrderRequest{
		UserID:       req.UserID,
		City:         req.City,
		DeliveryDate: date,
		DeliveryTime: req.Time,
		Street:       req.Street,
		Entrance:     req.Entrance,
		Floor:        req.Floor,
		Comment:      req.Comment,
		SetName:      req.SetName,
		WalletCost:   req.WalletCost,
		AmountDue:    req.AmountDue,
	})
	if err != nil {
		code, status := reason(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("create order error", zap.Error(err), zap.Int64("userID", req.UserID))
		}
		writeJSON(w, status, errorResponse{Error: code})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"order_number": order.Number})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateOrderStatus(r.Context(), orderID, model.OrderStatus(req.Status)); err != nil {
		code, status := reason(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("update status error", zap.Error(err), zap.Int64("orderID", orderID))
		}
		writeJSON(w, status, errorResponse{Error: code})
		return
	}

	w.WriteHeader(http.StatusOK)
}

type walletRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Action string          `json:"action"`
}

// ManageWallet изменяет баланс пользователя.
func (h *Handler) ManageWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.ManageWallet(r.Context(), userID, req.Amount, req.Action)
	if err != nil {
		code, status := reason(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("manage wallet error", zap.Error(err), zap.Int64("userID", userID))
		}
		writeJSON(w, status, errorResponse{Error: code})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type broadcastRequest struct {
	Message        string   `json:"message"`
	Tags           []string `json:"tags"`
	ReporterChatID int64    `json:"reporter_chat_id"`
}

// Broadcast запускает фоновую рассылку и сразу отвечает 202.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Message == "" || req.ReporterChatID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.Broadcast(req.Message, req.Tags, req.ReporterChatID)

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "broadcast started"})
}

// GetUserOrders возвращает список заказов пользователя.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

type scheduleInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type scheduleDay struct {
	Weekday   int                `json:"weekday"`
	Intervals []scheduleInterval `json:"intervals"`
}

type setScheduleRequest struct {
	Days []scheduleDay `json:"days"`
}

// SetSchedule заменяет недельное расписание города.
func (h *Handler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	var req setScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	days := make(map[time.Weekday][]model.Interval)
	for _, d := range req.Days {
		if d.Weekday < 0 || d.Weekday > 6 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		for _, iv := range d.Intervals {
			start, err := availability.ParseClock(iv.Start)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			end, err := availability.ParseClock(iv.End)
			if err != nil || end <= start {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			days[time.Weekday(d.Weekday)] = append(days[time.Weekday(d.Weekday)],
				model.Interval{Start: start, End: end})
		}
	}

	if err := h.service.SetSchedule(r.Context(), &model.Schedule{City: city, Days: days}); err != nil {
		h.logger.Error("set schedule error", zap.Error(err), zap.String("city", city))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type blockedSlotRequest struct {
	City    string `json:"city"`
	Date    string `json:"date"`
	FullDay bool   `json:"full_day"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// AddBlockedSlot создаёт разовую блокировку слота или целой даты.
func (h *Handler) AddBlockedSlot(w http.ResponseWriter, r *http.Request) {
	var req blockedSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.City == "" || req.Date == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	slot := &model.BlockedSlot{City: req.City, Date: date, FullDay: req.FullDay}
	if !req.FullDay {
		slot.Start, err = availability.ParseClock(req.Start)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		slot.End, err = availability.ParseClock(req.End)
		if err != nil || slot.End <= slot.Start {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	if err := h.service.AddBlockedSlot(r.Context(), slot); err != nil {
		h.logger.Error("add blocked slot error", zap.Error(err), zap.String("city", req.City))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
