package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/maximaxme/subboy/internal/migrations"
	"github.com/maximaxme/subboy/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создает тестового пользователя
func (f *TestDataFactory) CreateUser(t *testing.T, id int64, username string) {
	_, err := f.storage.DB.Exec(`INSERT INTO users (id, username, full_name) VALUES ($1, $2, $3)`,
		id, username, username)
	require.NoError(t, err)
}

// CreateSettings создает строку настроек уведомлений
func (f *TestDataFactory) CreateSettings(t *testing.T, s models.NotificationSettings) {
	_, err := f.storage.DB.Exec(`INSERT INTO notification_settings (user_id, day_before, weekly, monthly, notify_hour)
		VALUES ($1, $2, $3, $4, $5)`, s.UserID, s.DayBefore, s.Weekly, s.Monthly, s.NotifyHour)
	require.NoError(t, err)
}

// CreateCategory создает категорию
func (f *TestDataFactory) CreateCategory(t *testing.T, userID int64, name string) int64 {
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO categories (user_id, name) VALUES ($1, $2) RETURNING id`,
		userID, name).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateSubscription создает тестовую подписку
func (f *TestDataFactory) CreateSubscription(t *testing.T, userID int64, categoryID *int64, name, price string,
	period models.Period, nextPayment time.Time, isActive bool) int64 {
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO subscriptions
		(user_id, category_id, name, price, period, next_payment, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		userID, categoryID, name, decimal.RequireFromString(price), string(period), nextPayment, isActive).Scan(&id)
	require.NoError(t, err)
	return id
}

// NextPayment читает дату списания подписки напрямую из БД
func (f *TestDataFactory) NextPayment(t *testing.T, id int64) time.Time {
	var next time.Time
	err := f.storage.DB.QueryRow(`SELECT next_payment FROM subscriptions WHERE id = $1`, id).Scan(&next)
	require.NoError(t, err)
	return next.UTC()
}

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for i := 0; i < 10; i++ {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath), "Failed to apply migrations")

	cleanup := func() {
		if storage != nil && storage.DB != nil {
			_ = storage.DB.Close()
		}
		_ = pgContainer.Terminate(ctx)
	}

	return storage, cleanup
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
