// Package subscription содержит операции над данными пользователя, которыми
// пользуется слой представления: регистрация, категории, подписки и настройки уведомлений.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/maximaxme/subboy/internal/lib/billing"
	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/services/reminder"
	"github.com/maximaxme/subboy/internal/storage"
)

// ErrInvalidInput возвращается при некорректных данных от пользователя.
var ErrInvalidInput = errors.New("invalid input")

const listTTL = 10 * time.Minute

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(ctx context.Context, key string) error
}

// SubscriptionService реализует операции над подписками пользователя.
// Список подписок кешируется, любое изменение сбрасывает кеш пользователя.
type SubscriptionService struct {
	store       storage.Store
	cache       Cache
	log         *slog.Logger
	defaultHour int
}

// NewSubscriptionService создает новый экземпляр SubscriptionService. cache может быть nil.
func NewSubscriptionService(store storage.Store, cache Cache, log *slog.Logger, defaultHour int) *SubscriptionService {
	return &SubscriptionService{
		store:       store,
		cache:       cache,
		log:         log.With(slog.String("component", "subscription")),
		defaultHour: defaultHour,
	}
}

func listKey(userID int64) string {
	return "subboy:subs:" + strconv.FormatInt(userID, 10)
}

func (s *SubscriptionService) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, listKey(userID)); err != nil {
		s.log.Warn("failed to invalidate cache", slog.Int64("user_id", userID), sl.Err(err))
	}
}

// InvalidateUsers сбрасывает кеш списков подписок указанных пользователей.
// Вызывается после того, как даты списания изменены в обход сервиса.
func (s *SubscriptionService) InvalidateUsers(ctx context.Context, userIDs []int64) {
	for _, id := range userIDs {
		s.invalidate(ctx, id)
	}
}

// RegisterUser создаёт или обновляет пользователя и его настройки по умолчанию.
func (s *SubscriptionService) RegisterUser(ctx context.Context, user models.User) error {
	const op = "subscription.RegisterUser"

	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		if err := repo.EnsureUser(ctx, user); err != nil {
			return err
		}
		return repo.CreateNotificationSettings(ctx, models.DefaultNotificationSettings(user.ID, s.defaultHour))
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// getOrCreateSettings возвращает настройки, создавая их со значениями по умолчанию.
func (s *SubscriptionService) getOrCreateSettings(ctx context.Context, repo storage.Repository,
	userID int64) (models.NotificationSettings, error) {
	ns, err := repo.GetNotificationSettings(ctx, userID)
	if err == nil {
		return *ns, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.NotificationSettings{}, err
	}
	def := models.DefaultNotificationSettings(userID, s.defaultHour)
	if err := repo.CreateNotificationSettings(ctx, def); err != nil {
		return models.NotificationSettings{}, err
	}
	return def, nil
}

// Settings возвращает настройки уведомлений, создавая их при первом обращении.
func (s *SubscriptionService) Settings(ctx context.Context, userID int64) (models.NotificationSettings, error) {
	const op = "subscription.Settings"

	var ns models.NotificationSettings
	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		ns, err = s.getOrCreateSettings(ctx, repo, userID)
		return err
	})
	if err != nil {
		return models.NotificationSettings{}, fmt.Errorf("%s: %w", op, err)
	}
	return ns, nil
}

// ToggleSetting переключает флаг напоминания и возвращает новое значение.
func (s *SubscriptionService) ToggleSetting(ctx context.Context, userID int64, setting models.Setting) (bool, error) {
	const op = "subscription.ToggleSetting"

	if !setting.Valid() {
		return false, fmt.Errorf("%s: %w: unknown setting %q", op, ErrInvalidInput, string(setting))
	}

	var enabled bool
	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		ns, err := s.getOrCreateSettings(ctx, repo, userID)
		if err != nil {
			return err
		}
		enabled = ns.Toggle(setting)
		return repo.UpdateNotificationSettings(ctx, ns)
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return enabled, nil
}

// SetNotifyHour задаёт час (UTC) отправки напоминаний в почасовом режиме.
func (s *SubscriptionService) SetNotifyHour(ctx context.Context, userID int64, hour int) error {
	const op = "subscription.SetNotifyHour"

	if hour < 0 || hour > 23 {
		return fmt.Errorf("%s: %w: hour %d", op, ErrInvalidInput, hour)
	}
	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		ns, err := s.getOrCreateSettings(ctx, repo, userID)
		if err != nil {
			return err
		}
		ns.NotifyHour = hour
		return repo.UpdateNotificationSettings(ctx, ns)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddCategory создаёт категорию пользователя.
func (s *SubscriptionService) AddCategory(ctx context.Context, userID int64, name string) (int64, error) {
	const op = "subscription.AddCategory"

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%s: %w: empty category name", op, ErrInvalidInput)
	}

	var id int64
	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		id, err = repo.CreateCategory(ctx, userID, name)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Categories возвращает категории пользователя по алфавиту.
func (s *SubscriptionService) Categories(ctx context.Context, userID int64) ([]*models.Category, error) {
	const op = "subscription.Categories"

	var out []*models.Category
	err := s.store.RunInTx(ctx, storage.TxOptions{ReadOnly: true}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		out, err = repo.ListCategories(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// DeleteCategory удаляет категорию. Подписки категории не удаляются, а остаются
// без категории; возвращается их количество.
func (s *SubscriptionService) DeleteCategory(ctx context.Context, userID, categoryID int64) (int, error) {
	const op = "subscription.DeleteCategory"

	var detached int
	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		detached, err = repo.DeleteCategory(ctx, userID, categoryID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, userID)
	s.log.Info("category deleted",
		slog.Int64("user_id", userID),
		slog.Int64("category_id", categoryID),
		slog.Int("detached", detached))
	return detached, nil
}

// normalize проверяет поля подписки, введённые пользователем, и приводит их к виду для хранения.
func normalize(sub *models.Subscription) error {
	sub.Name = strings.TrimSpace(sub.Name)
	switch {
	case sub.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidInput)
	case !sub.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	case !sub.Period.Valid():
		return fmt.Errorf("%w: unknown period %q", ErrInvalidInput, string(sub.Period))
	case sub.NextPayment.IsZero():
		return fmt.Errorf("%w: next payment date is required", ErrInvalidInput)
	}
	sub.NextPayment = billing.Date(sub.NextPayment)
	sub.Price = sub.Price.Round(2)
	return nil
}

// AddSubscription проверяет и сохраняет подписку. Дата следующего списания
// приводится к полуночи UTC, валюта по умолчанию RUB.
func (s *SubscriptionService) AddSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "subscription.AddSubscription"

	if err := normalize(&sub); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	sub.IsActive = true

	var id int64
	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		id, err = repo.CreateSubscription(ctx, sub)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, sub.UserID)
	return id, nil
}

// UpdateSubscription проверяет и сохраняет изменения подписки sub.ID пользователя userID.
// Правила те же, что у AddSubscription. Пауза не снимается. Дату в прошлом
// следующий прогон сдвига дат передвинет вперёд.
func (s *SubscriptionService) UpdateSubscription(ctx context.Context, userID int64, sub models.Subscription) error {
	const op = "subscription.UpdateSubscription"

	if err := normalize(&sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sub.UserID = userID

	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		return repo.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// SetActive ставит подписку на паузу или возобновляет её.
func (s *SubscriptionService) SetActive(ctx context.Context, userID, subscriptionID int64, active bool) error {
	const op = "subscription.SetActive"

	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		return repo.SetSubscriptionActive(ctx, userID, subscriptionID, active)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// Delete удаляет подписку пользователя.
func (s *SubscriptionService) Delete(ctx context.Context, userID, subscriptionID int64) error {
	const op = "subscription.Delete"

	err := s.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		return repo.DeleteSubscription(ctx, userID, subscriptionID)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// List возвращает подписки пользователя. Сначала проверяется кеш.
func (s *SubscriptionService) List(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	const op = "subscription.List"

	key := listKey(userID)
	if s.cache != nil {
		var cached []*models.Subscription
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("failed to read cache", slog.String("key", key), sl.Err(err))
		} else if found {
			return cached, nil
		}
	}

	var out []*models.Subscription
	err := s.store.RunInTx(ctx, storage.TxOptions{ReadOnly: true}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		out, err = repo.ListSubscriptions(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out, listTTL); err != nil {
			s.log.Warn("failed to write cache", slog.String("key", key), sl.Err(err))
		}
	}
	return out, nil
}

// Summary считает сводку расходов пользователя по всем подпискам.
func (s *SubscriptionService) Summary(ctx context.Context, userID int64, topN int) (models.Summary, error) {
	subs, err := s.List(ctx, userID)
	if err != nil {
		return models.Summary{}, fmt.Errorf("subscription.Summary: %w", err)
	}
	return reminder.Summarize(subs, topN), nil
}
