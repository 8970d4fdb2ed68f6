package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/storage"
)

const subscriptionColumns = `s.id, s.user_id, s.category_id, COALESCE(c.name, ''), s.name, s.price,
			      s.currency, s.period, s.next_payment, s.is_active, s.created_at`

const subscriptionFrom = `FROM subscriptions s
			  LEFT JOIN categories c ON c.id = s.category_id`

// scanSubscriptions читает строки, выбранные по subscriptionColumns, и закрывает rows.
func scanSubscriptions(rows *sql.Rows) ([]*models.Subscription, error) {
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		var (
			item       models.Subscription
			categoryID sql.NullInt64
			period     string
		)
		if err := rows.Scan(&item.ID, &item.UserID, &categoryID, &item.CategoryName, &item.Name,
			&item.Price, &item.Currency, &period, &item.NextPayment, &item.IsActive, &item.CreatedAt); err != nil {
			return nil, err
		}
		if categoryID.Valid {
			id := categoryID.Int64
			item.CategoryID = &id
		}
		item.Period = models.Period(period)
		item.NextPayment = item.NextPayment.UTC()
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListOverdueSubscriptions находит подписки со старыми датами платежей, включая подписки на паузе.
func (q *Queries) ListOverdueSubscriptions(ctx context.Context, before time.Time) ([]*models.Subscription, error) {
	const op = "storage.ListOverdueSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  ` + subscriptionFrom + `
			  WHERE s.next_payment < $1
			  ORDER BY s.id`
	rows, err := q.q.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result, err := scanSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateNextPaymentDates обновляет даты следующего платежа пачкой в текущей транзакции.
func (q *Queries) UpdateNextPaymentDates(ctx context.Context, updates []models.PaymentDateUpdate) (int, error) {
	const op = "storage.UpdateNextPaymentDates"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
		      SET next_payment = $1
		      WHERE id = $2`
	total := 0
	for _, u := range updates {
		res, err := q.q.ExecContext(ctx, query, u.NextPayment, u.ID)
		if err != nil {
			return total, fmt.Errorf("%s: subscription %d: %w", op, u.ID, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		total += int(rowsAffected)
	}
	return total, nil
}

func settingColumn(setting models.Setting) (string, bool, error) {
	switch setting {
	case models.SettingDayBefore:
		return "day_before", models.DefaultDayBefore, nil
	case models.SettingWeekly:
		return "weekly", models.DefaultWeekly, nil
	case models.SettingMonthly:
		return "monthly", models.DefaultMonthly, nil
	}
	return "", false, fmt.Errorf("unknown setting %q", string(setting))
}

// ListSubscriptionsBySetting возвращает подписки пользователей, у которых включён указанный вид напоминаний.
// Пользователи без строки notification_settings получают значения по умолчанию.
func (q *Queries) ListSubscriptionsBySetting(ctx context.Context,
	filter storage.SubscriptionFilter) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptionsBySetting"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	column, def, err := settingColumn(filter.Setting)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var b strings.Builder
	args := []any{def}
	b.WriteString(`SELECT ` + subscriptionColumns + `
			  ` + subscriptionFrom + `
			  LEFT JOIN notification_settings ns ON ns.user_id = s.user_id
			  WHERE COALESCE(ns.` + column + `, $1)`)
	if filter.Hour != nil {
		args = append(args, filter.DefaultHour, *filter.Hour)
		fmt.Fprintf(&b, "\n\t\t\t  AND COALESCE(ns.notify_hour, $%d) = $%d", len(args)-1, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		fmt.Fprintf(&b, "\n\t\t\t  AND s.next_payment >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		fmt.Fprintf(&b, "\n\t\t\t  AND s.next_payment <= $%d", len(args))
	}
	if filter.ActiveOnly {
		b.WriteString("\n\t\t\t  AND s.is_active = true")
	}
	b.WriteString("\n\t\t\t  ORDER BY s.user_id, s.next_payment, s.name, s.id")

	rows, err := q.q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result, err := scanSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CreateSubscription вставляет новую подписку и возвращает её ID.
func (q *Queries) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	currency := models.CurrencyOf(&sub)
	query := `INSERT INTO subscriptions (user_id, category_id, name, price, currency, period, next_payment, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  RETURNING id`
	var newID int64
	err := q.q.QueryRowContext(ctx, query,
		sub.UserID, sub.CategoryID, sub.Name, sub.Price, currency, string(sub.Period),
		sub.NextPayment, sub.IsActive).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// UpdateSubscription изменяет категорию, название, цену, валюту, период и дату списания.
func (q *Queries) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	const op = "storage.UpdateSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET category_id = $1, name = $2, price = $3, currency = $4, period = $5, next_payment = $6
			  WHERE id = $7 AND user_id = $8`
	res, err := q.q.ExecContext(ctx, query,
		sub.CategoryID, sub.Name, sub.Price, models.CurrencyOf(&sub), string(sub.Period),
		sub.NextPayment, sub.ID, sub.UserID)
	return affectedOne(op, res, err)
}

// SetSubscriptionActive ставит подписку на паузу или возобновляет её.
func (q *Queries) SetSubscriptionActive(ctx context.Context, userID, subscriptionID int64, active bool) error {
	const op = "storage.SetSubscriptionActive"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions SET is_active = $1 WHERE id = $2 AND user_id = $3`
	res, err := q.q.ExecContext(ctx, query, active, subscriptionID, userID)
	return affectedOne(op, res, err)
}

// DeleteSubscription удаляет подписку пользователя.
func (q *Queries) DeleteSubscription(ctx context.Context, userID, subscriptionID int64) error {
	const op = "storage.DeleteSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM subscriptions WHERE id = $1 AND user_id = $2`
	res, err := q.q.ExecContext(ctx, query, subscriptionID, userID)
	return affectedOne(op, res, err)
}

// ListSubscriptions возвращает все подписки пользователя по дате списания.
func (q *Queries) ListSubscriptions(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  ` + subscriptionFrom + `
			  WHERE s.user_id = $1
			  ORDER BY s.next_payment, s.name, s.id`
	rows, err := q.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result, err := scanSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// affectedOne превращает результат UPDATE/DELETE без затронутых строк в storage.ErrNotFound.
func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
