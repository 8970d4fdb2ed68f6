package repository

import (
	"context"
	"fmt"

	"github.com/maximaxme/subboy/internal/models"
)

// EnsureUser создаёт пользователя при первом обращении или обновляет его имя.
func (q *Queries) EnsureUser(ctx context.Context, user models.User) error {
	const op = "storage.EnsureUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (id, username, full_name)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (id) DO UPDATE
			  SET username = EXCLUDED.username, full_name = EXCLUDED.full_name`
	if _, err := q.q.ExecContext(ctx, query, user.ID, user.Username, user.FullName); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetNotificationSettings возвращает настройки или storage.ErrNotFound, если их ещё нет.
func (q *Queries) GetNotificationSettings(ctx context.Context, userID int64) (*models.NotificationSettings, error) {
	const op = "storage.GetNotificationSettings"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id, day_before, weekly, monthly, notify_hour
			  FROM notification_settings
			  WHERE user_id = $1`
	var s models.NotificationSettings
	if err := q.q.QueryRowContext(ctx, query, userID).
		Scan(&s.UserID, &s.DayBefore, &s.Weekly, &s.Monthly, &s.NotifyHour); err != nil {
		return nil, notFound(op, err)
	}
	return &s, nil
}

// CreateNotificationSettings сохраняет настройки; существующая строка не перезаписывается.
func (q *Queries) CreateNotificationSettings(ctx context.Context, s models.NotificationSettings) error {
	const op = "storage.CreateNotificationSettings"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO notification_settings (user_id, day_before, weekly, monthly, notify_hour)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_id) DO NOTHING`
	if _, err := q.q.ExecContext(ctx, query, s.UserID, s.DayBefore, s.Weekly, s.Monthly, s.NotifyHour); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateNotificationSettings перезаписывает флаги и час уведомлений.
func (q *Queries) UpdateNotificationSettings(ctx context.Context, s models.NotificationSettings) error {
	const op = "storage.UpdateNotificationSettings"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE notification_settings
			  SET day_before = $1, weekly = $2, monthly = $3, notify_hour = $4
			  WHERE user_id = $5`
	res, err := q.q.ExecContext(ctx, query, s.DayBefore, s.Weekly, s.Monthly, s.NotifyHour, s.UserID)
	return affectedOne(op, res, err)
}

// CreateCategory создаёт категорию пользователя и возвращает её ID.
func (q *Queries) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	const op = "storage.CreateCategory"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO categories (user_id, name) VALUES ($1, $2) RETURNING id`
	var id int64
	if err := q.q.QueryRowContext(ctx, query, userID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ListCategories возвращает категории пользователя по имени.
func (q *Queries) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	const op = "storage.ListCategories"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, name FROM categories WHERE user_id = $1 ORDER BY name, id`
	rows, err := q.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// DeleteCategory отвязывает подписки от категории и удаляет её.
// Сами подписки не удаляются. Возвращает число отвязанных подписок.
func (q *Queries) DeleteCategory(ctx context.Context, userID, categoryID int64) (int, error) {
	const op = "storage.DeleteCategory"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := q.q.ExecContext(ctx,
		`UPDATE subscriptions SET category_id = NULL WHERE category_id = $1 AND user_id = $2`,
		categoryID, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	detached, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	res, err = q.q.ExecContext(ctx, `DELETE FROM categories WHERE id = $1 AND user_id = $2`, categoryID, userID)
	if err := affectedOne(op, res, err); err != nil {
		return 0, err
	}
	return int(detached), nil
}
