// Package storage описывает транзакционное хранилище, которым пользуются
// движок сдвига дат, отбор напоминаний и сервис подписок.
// Реализация на PostgreSQL находится в пакете repository,
// реализация в памяти для тестов находится в storagetest.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/maximaxme/subboy/internal/models"
)

// ErrNotFound возвращается, если запись не существует или принадлежит другому пользователю.
var ErrNotFound = errors.New("record not found")

// TxOptions параметры транзакции.
type TxOptions struct {
	// ReadOnly открывает транзакцию только для чтения со снимком данных на момент начала.
	ReadOnly bool
}

// SubscriptionFilter задаёт выборку подписок для одного вида напоминания.
type SubscriptionFilter struct {
	// Setting: в выборку попадают только пользователи с включённым флагом.
	// Если строки настроек нет, используется значение по умолчанию.
	Setting models.Setting
	// Hour: если не nil, только пользователи с таким notify_hour.
	Hour *int
	// DefaultHour подставляется для пользователей без строки настроек.
	DefaultHour int
	// From и To ограничивают next_payment включительно; нулевое значение снимает границу.
	From time.Time
	To   time.Time
	// ActiveOnly исключает подписки на паузе.
	ActiveOnly bool
}

// Repository операции над данными в рамках одной транзакции.
type Repository interface {
	// ListOverdueSubscriptions возвращает все подписки (активные и на паузе) с next_payment < before.
	ListOverdueSubscriptions(ctx context.Context, before time.Time) ([]*models.Subscription, error)
	// UpdateNextPaymentDates сохраняет новые даты и возвращает число изменённых строк.
	UpdateNextPaymentDates(ctx context.Context, updates []models.PaymentDateUpdate) (int, error)
	// ListSubscriptionsBySetting возвращает подписки, отсортированные по
	// user_id, next_payment, name, id.
	ListSubscriptionsBySetting(ctx context.Context, filter SubscriptionFilter) ([]*models.Subscription, error)

	EnsureUser(ctx context.Context, user models.User) error
	GetNotificationSettings(ctx context.Context, userID int64) (*models.NotificationSettings, error)
	CreateNotificationSettings(ctx context.Context, settings models.NotificationSettings) error
	UpdateNotificationSettings(ctx context.Context, settings models.NotificationSettings) error

	CreateCategory(ctx context.Context, userID int64, name string) (int64, error)
	ListCategories(ctx context.Context, userID int64) ([]*models.Category, error)
	// DeleteCategory удаляет категорию и возвращает число отвязанных подписок.
	DeleteCategory(ctx context.Context, userID, categoryID int64) (int, error)

	CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error)
	// UpdateSubscription перезаписывает редактируемые поля подписки sub.ID владельца sub.UserID.
	// Флаг активности не меняется.
	UpdateSubscription(ctx context.Context, sub models.Subscription) error
	SetSubscriptionActive(ctx context.Context, userID, subscriptionID int64, active bool) error
	DeleteSubscription(ctx context.Context, userID, subscriptionID int64) error
	ListSubscriptions(ctx context.Context, userID int64) ([]*models.Subscription, error)
}

// Store открывает транзакции. fn получает Repository, привязанный к транзакции;
// ошибка или паника внутри fn откатывает транзакцию, иначе она фиксируется.
type Store interface {
	RunInTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, repo Repository) error) error
}
