// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/barter-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCooldownActive возвращается, если кулдаун пользователя ещё не истёк.
	ErrCooldownActive = errors.New("cooldown is still active")
	// ErrStatusConflict возвращается, если статус заказа изменился конкурентно
	// или переход запрошен из недопустимого состояния.
	ErrStatusConflict = errors.New("order status conflict")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации и сетевых сбоях
// с ограниченным числом попыток.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		retryable := false
		if errors.As(err, &pgErr) {
			retryable = pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
		}
		if !retryable {
			retryable = isConnectionError(err)
		}

		if retryable && i < len(delays) {
			time.Sleep(delays[i])
			continue
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, telegram_id, first_name, instagram, followers, avg_views,
	balance, allowance, last_allowance_grant, last_order_at, cooldown_notified,
	strikes, loyalty_status, tags, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var loyalty string
	err := row.Scan(&u.ID, &u.TelegramID, &u.FirstName, &u.Instagram, &u.Followers,
		&u.AvgViews, &u.Balance, &u.Allowance, &u.LastAllowanceGrant, &u.LastOrderAt,
		&u.CooldownNotified, &u.Strikes, &loyalty, &u.Tags, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.LoyaltyStatus = model.LoyaltyStatus(loyalty)
	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func nextOrderNumber(ctx context.Context, tx pgx.Tx) (string, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT nextval('order_numbers')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("B-%06d", n), nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	return tx.QueryRow(ctx,
		`INSERT INTO orders (number, user_id, city, delivery_date, delivery_time,
			street, entrance, floor, comment, set_name, wallet_cost, amount_due, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at`,
		o.Number, o.UserID, o.City, o.DeliveryDate, o.DeliveryTime,
		o.Street, o.Entrance, o.Floor, o.Comment, o.SetName,
		o.WalletCost, o.AmountDue, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
}

func appendUserTag(ctx context.Context, tx pgx.Tx, userID int64, tag string) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET tags = array_append(tags, $2)
		 WHERE id = $1 AND NOT ($2 = ANY (tags))`,
		userID, tag)
	return err
}

// clampDebit ограничивает списание текущим балансом. Текущая политика:
// при нехватке средств списывается остаток, а не отклоняется заказ;
// недостающая часть уходит в доплату.
func clampDebit(cost, balance decimal.Decimal) (debited, newBalance decimal.Decimal) {
	debited = cost
	if debited.GreaterThan(balance) {
		debited = balance
	}
	return debited, balance.Sub(debited)
}

// applyWalletDebit применяет ограниченное списание к заказу: в wallet_cost
// остаётся фактически списанная сумма, недостающая часть переносится в доплату.
func applyWalletDebit(o *model.Order, balance decimal.Decimal) (debited, newBalance decimal.Decimal) {
	debited, newBalance = clampDebit(o.WalletCost, balance)
	shortfall := o.WalletCost.Sub(debited)
	if shortfall.IsPositive() {
		o.WalletCost = debited
		o.AmountDue = o.AmountDue.Add(shortfall)
	}
	return debited, newBalance
}

// CreateWalletOrder создаёт заказ с оплатой из кошелька в одной транзакции.
// Строка пользователя блокируется, списание ограничено текущим балансом,
// баланс никогда не уходит в минус. Возвращает фактически списанную сумму
// и новый баланс.
func (r *PostgresRepository) CreateWalletOrder(ctx context.Context, o *model.Order, tag string) (debited, newBalance decimal.Decimal, err error) {
	err = r.withRetry(ctx, func() error {
		tx, txErr := r.pool.Begin(ctx)
		if txErr != nil {
			return fmt.Errorf("begin tx: %w", txErr)
		}
		defer tx.Rollback(ctx)

		var balance decimal.Decimal
		txErr = tx.QueryRow(ctx,
			`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, o.UserID,
		).Scan(&balance)
		if txErr != nil {
			if errors.Is(txErr, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", txErr)
		}

		debited, newBalance = applyWalletDebit(o, balance)

		if _, txErr = tx.Exec(ctx,
			`UPDATE users SET balance = $2 WHERE id = $1`, o.UserID, newBalance); txErr != nil {
			return fmt.Errorf("debit balance: %w", txErr)
		}

		if txErr = appendUserTag(ctx, tx, o.UserID, tag); txErr != nil {
			return fmt.Errorf("append tag: %w", txErr)
		}

		o.Number, txErr = nextOrderNumber(ctx, tx)
		if txErr != nil {
			return txErr
		}

		o.Status = model.OrderStatusNew
		if txErr = insertOrder(ctx, tx, o); txErr != nil {
			return fmt.Errorf("insert order: %w", txErr)
		}

		if txErr = tx.Commit(ctx); txErr != nil {
			return fmt.Errorf("commit tx: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return debited, newBalance, nil
}

// CreateCooldownOrder создаёт бесплатный заказ набора в одной транзакции.
// Если кулдаун пользователя ещё не истёк, возвращает ErrCooldownActive.
func (r *PostgresRepository) CreateCooldownOrder(ctx context.Context, o *model.Order, tag string, cooldown time.Duration, now time.Time) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var lastOrderAt *time.Time
		err = tx.QueryRow(ctx,
			`SELECT last_order_at FROM users WHERE id = $1 FOR UPDATE`, o.UserID,
		).Scan(&lastOrderAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if lastOrderAt != nil && now.Before(lastOrderAt.Add(cooldown)) {
			return ErrCooldownActive
		}

		if _, err = tx.Exec(ctx,
			`UPDATE users SET last_order_at = $2, cooldown_notified = FALSE WHERE id = $1`,
			o.UserID, now); err != nil {
			return fmt.Errorf("update cooldown: %w", err)
		}

		if err = appendUserTag(ctx, tx, o.UserID, tag); err != nil {
			return fmt.Errorf("append tag: %w", err)
		}

		o.Number, err = nextOrderNumber(ctx, tx)
		if err != nil {
			return err
		}

		o.Status = model.OrderStatusNew
		if err = insertOrder(ctx, tx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

const orderColumns = `id, number, user_id, city, delivery_date, delivery_time,
	street, entrance, floor, comment, set_name, wallet_cost, amount_due,
	status, reminder_sent, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.City, &o.DeliveryDate,
		&o.DeliveryTime, &o.Street, &o.Entrance, &o.Floor, &o.Comment, &o.SetName,
		&o.WalletCost, &o.AmountDue, &status, &o.ReminderSent, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает проекцию заказов пользователя для списков.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.OrderSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, number, status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.OrderSummary
	for rows.Next() {
		var s model.OrderSummary
		if err := rows.Scan(&s.ID, &s.Number, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus переводит заказ из состояния from в to.
// Сравнение с текущим статусом выполняется в самом UPDATE, поэтому
// конкурентный переход не может быть потерян или применён дважды.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
			id, string(from), string(to))
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	})
}

// AdjustBalance изменяет баланс пользователя. При action remove сумма,
// превышающая баланс, отклоняется с ErrInsufficientBalance.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal, add bool) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance decimal.Decimal
		err = tx.QueryRow(ctx,
			`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if add {
			newBalance = balance.Add(amount)
		} else {
			if amount.GreaterThan(balance) {
				return ErrInsufficientBalance
			}
			newBalance = balance.Sub(amount)
		}

		if _, err = tx.Exec(ctx,
			`UPDATE users SET balance = $2 WHERE id = $1`, userID, newBalance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return newBalance, nil
}

// CountCompleted возвращает число завершённых заказов пользователя.
func (r *PostgresRepository) CountCompleted(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = $2`,
		userID, string(model.OrderStatusCompleted),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed: %w", err)
	}
	return n, nil
}

// PromoteLoyalty переводит пользователя в premium. Возвращает true, если
// статус изменился именно этим вызовом; повторный вызов — no-op.
func (r *PostgresRepository) PromoteLoyalty(ctx context.Context, userID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET loyalty_status = $2 WHERE id = $1 AND loyalty_status <> $2`,
		userID, string(model.LoyaltyPremium))
	if err != nil {
		return false, fmt.Errorf("promote loyalty: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSchedule возвращает недельное расписание города. Если расписание
// не задано, возвращает nil без ошибки.
func (r *PostgresRepository) GetSchedule(ctx context.Context, city string) (*model.Schedule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT weekday, start_min, end_min FROM schedules WHERE city = $1`, city)
	if err != nil {
		return nil, fmt.Errorf("select schedule: %w", err)
	}
	defer rows.Close()

	days := make(map[time.Weekday][]model.Interval)
	for rows.Next() {
		var weekday int16
		var iv model.Interval
		if err := rows.Scan(&weekday, &iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		days[time.Weekday(weekday)] = append(days[time.Weekday(weekday)], iv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(days) == 0 {
		return nil, nil
	}

	return &model.Schedule{City: city, Days: days}, nil
}

// SetSchedule заменяет недельное расписание города.
func (r *PostgresRepository) SetSchedule(ctx context.Context, s *model.Schedule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, `DELETE FROM schedules WHERE city = $1`, s.City); err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}

	for weekday, intervals := range s.Days {
		for _, iv := range intervals {
			if _, err = tx.Exec(ctx,
				`INSERT INTO schedules (city, weekday, start_min, end_min) VALUES ($1, $2, $3, $4)`,
				s.City, int16(weekday), iv.Start, iv.End); err != nil {
				return fmt.Errorf("insert schedule: %w", err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListBlockedSlots возвращает блокировки города на указанную дату.
func (r *PostgresRepository) ListBlockedSlots(ctx context.Context, city string, date time.Time) ([]model.BlockedSlot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT city, on_date, full_day, start_min, end_min
		 FROM blocked_slots
		 WHERE city = $1 AND on_date = $2`,
		city, date)
	if err != nil {
		return nil, fmt.Errorf("select blocked slots: %w", err)
	}
	defer rows.Close()

	var res []model.BlockedSlot
	for rows.Next() {
		var b model.BlockedSlot
		if err := rows.Scan(&b.City, &b.Date, &b.FullDay, &b.Start, &b.End); err != nil {
			return nil, fmt.Errorf("scan blocked slot: %w", err)
		}
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddBlockedSlot создаёт разовую блокировку слота или целой даты.
func (r *PostgresRepository) AddBlockedSlot(ctx context.Context, b *model.BlockedSlot) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO blocked_slots (city, on_date, full_day, start_min, end_min)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.City, b.Date, b.FullDay, b.Start, b.End)
	if err != nil {
		return fmt.Errorf("insert blocked slot: %w", err)
	}
	return nil
}

// ListAdmins возвращает операторов, подписанных на уведомления.
func (r *PostgresRepository) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT chat_id, receives_notifications FROM admins WHERE receives_notifications`)
	if err != nil {
		return nil, fmt.Errorf("select admins: %w", err)
	}
	defer rows.Close()

	var res []model.Admin
	for rows.Next() {
		var a model.Admin
		if err := rows.Scan(&a.ChatID, &a.ReceivesNotifications); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRecipients возвращает аудиторию рассылки. Непустой список тегов
// ограничивает выборку пользователями, имеющими хотя бы один из них.
func (r *PostgresRepository) ListRecipients(ctx context.Context, tags []string) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if len(tags) > 0 {
		query += ` WHERE tags && $1`
		args = append(args, tags)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		res = append(res, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListCooldownCandidates возвращает пользователей без кошелька, которым
// ещё не отправлено уведомление об окончании кулдауна.
func (r *PostgresRepository) ListCooldownCandidates(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE last_order_at IS NOT NULL
		   AND cooldown_notified = FALSE
		   AND allowance = 0`)
	if err != nil {
		return nil, fmt.Errorf("select cooldown candidates: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClaimCooldownNotice выставляет cooldown_notified и сообщает, удалось ли
// захватить флаг этим вызовом. Повторные и конкурентные запуски получают false.
func (r *PostgresRepository) ClaimCooldownNotice(ctx context.Context, userID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET cooldown_notified = TRUE
		 WHERE id = $1 AND cooldown_notified = FALSE`,
		userID)
	if err != nil {
		return false, fmt.Errorf("claim cooldown notice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueReminders возвращает доставленные заказы без отправленного
// напоминания, созданные не позднее cutoff.
func (r *PostgresRepository) ListDueReminders(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND reminder_sent = FALSE AND created_at <= $2`,
		string(model.OrderStatusDelivered), cutoff)
	if err != nil {
		return nil, fmt.Errorf("select due reminders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClaimReminder выставляет reminder_sent и сообщает, удалось ли захватить
// флаг этим вызовом.
func (r *PostgresRepository) ClaimReminder(ctx context.Context, orderID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET reminder_sent = TRUE
		 WHERE id = $1 AND reminder_sent = FALSE`,
		orderID)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListTopUpDue возвращает пользователей с лимитом, которым пора начислить
// еженедельный баланс.
func (r *PostgresRepository) ListTopUpDue(ctx context.Context, cutoff time.Time) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE allowance > 0
		   AND (last_allowance_grant IS NULL OR last_allowance_grant <= $1)`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("select top-up due: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GrantAllowance устанавливает баланс равным лимиту. Условие давности
// входит в сам UPDATE, поэтому перекрывающиеся запуски начисляют не более
// одного раза за период. Возвращает новый баланс и признак начисления.
func (r *PostgresRepository) GrantAllowance(ctx context.Context, userID int64, cutoff, now time.Time) (decimal.Decimal, bool, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET balance = allowance, last_allowance_grant = $3
		 WHERE id = $1
		   AND allowance > 0
		   AND (last_allowance_grant IS NULL OR last_allowance_grant <= $2)
		 RETURNING balance`,
		userID, cutoff, now,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("grant allowance: %w", err)
	}
	return balance, true, nil
}
