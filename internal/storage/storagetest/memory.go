// Package storagetest содержит хранилище в памяти с семантикой storage.Store.
// Используется в тестах движков и сервисов вместо PostgreSQL.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/storage"
)

type state struct {
	users         map[int64]models.User
	categories    map[int64]models.Category
	subscriptions map[int64]models.Subscription
	settings      map[int64]models.NotificationSettings
	nextID        int64
}

func (s *state) clone() *state {
	c := &state{
		users:         make(map[int64]models.User, len(s.users)),
		categories:    make(map[int64]models.Category, len(s.categories)),
		subscriptions: make(map[int64]models.Subscription, len(s.subscriptions)),
		settings:      make(map[int64]models.NotificationSettings, len(s.settings)),
		nextID:        s.nextID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.subscriptions {
		if v.CategoryID != nil {
			id := *v.CategoryID
			v.CategoryID = &id
		}
		c.subscriptions[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

// Store хранилище в памяти. Транзакции выполняются последовательно над копией данных,
// копия заменяет основное состояние только при успешном завершении.
type Store struct {
	mu    sync.Mutex
	data  *state
	fails map[string]error

	// Commits и Rollbacks считают завершённые транзакции.
	Commits   int
	Rollbacks int
	// ReadOnlyTx считает транзакции, открытые только для чтения.
	ReadOnlyTx int
}

var _ storage.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		data: &state{
			users:         map[int64]models.User{},
			categories:    map[int64]models.Category{},
			subscriptions: map[int64]models.Subscription{},
			settings:      map[int64]models.NotificationSettings{},
		},
		fails: map[string]error{},
	}
}

// FailOn заставляет метод Repository с указанным именем возвращать err.
// Пустой err снимает сбой.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fails, method)
		return
	}
	s.fails[method] = err
}

// RunInTx реализует storage.Store.
func (s *Store) RunInTx(ctx context.Context, opts storage.TxOptions,
	fn func(ctx context.Context, repo storage.Repository) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storagetest.RunInTx: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.ReadOnly {
		s.ReadOnlyTx++
	}
	repo := &repo{data: s.data.clone(), fails: s.fails, readOnly: opts.ReadOnly}

	defer func() {
		if p := recover(); p != nil {
			s.Rollbacks++
			panic(p)
		}
	}()

	if err := fn(ctx, repo); err != nil {
		s.Rollbacks++
		return err
	}
	s.data = repo.data
	s.Commits++
	return nil
}

// AddUser добавляет пользователя.
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

// SetSettings сохраняет настройки уведомлений пользователя.
func (s *Store) SetSettings(ns models.NotificationSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.settings[ns.UserID] = ns
}

// AddCategory добавляет категорию и возвращает её ID.
func (s *Store) AddCategory(userID int64, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.nextID++
	id := s.data.nextID
	s.data.categories[id] = models.Category{ID: id, UserID: userID, Name: name}
	return id
}

// AddSubscription добавляет подписку. Если ID не задан, он назначается автоматически.
func (s *Store) AddSubscription(sub models.Subscription) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		s.data.nextID++
		sub.ID = s.data.nextID
	} else if sub.ID > s.data.nextID {
		s.data.nextID = sub.ID
	}
	sub.Currency = models.CurrencyOf(&sub)
	s.data.subscriptions[sub.ID] = sub
	return sub.ID
}

// Subscription возвращает копию подписки.
func (s *Store) Subscription(id int64) (models.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.data.subscriptions[id]
	return sub, ok
}

// Settings возвращает сохранённые настройки пользователя.
func (s *Store) Settings(userID int64) (models.NotificationSettings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data.settings[userID]
	return ns, ok
}

// Subscriptions возвращает все подписки по возрастанию ID.
func (s *Store) Subscriptions() []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Subscription, 0, len(s.data.subscriptions))
	for _, sub := range s.data.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type repo struct {
	data     *state
	fails    map[string]error
	readOnly bool
}

var _ storage.Repository = (*repo)(nil)

func (r *repo) check(ctx context.Context, method string, write bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storagetest.%s: %w", method, err)
	}
	if err, ok := r.fails[method]; ok {
		return fmt.Errorf("storagetest.%s: %w", method, err)
	}
	if write && r.readOnly {
		return fmt.Errorf("storagetest.%s: cannot write in a read-only transaction", method)
	}
	return nil
}

func (r *repo) withCategory(sub models.Subscription) *models.Subscription {
	sub.CategoryName = ""
	if sub.CategoryID != nil {
		id := *sub.CategoryID
		sub.CategoryID = &id
		if c, ok := r.data.categories[id]; ok {
			sub.CategoryName = c.Name
		}
	}
	return &sub
}

func sortSubscriptions(subs []*models.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if !a.NextPayment.Equal(b.NextPayment) {
			return a.NextPayment.Before(b.NextPayment)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func (r *repo) ListOverdueSubscriptions(ctx context.Context, before time.Time) ([]*models.Subscription, error) {
	if err := r.check(ctx, "ListOverdueSubscriptions", false); err != nil {
		return nil, err
	}
	var out []*models.Subscription
	for _, sub := range r.data.subscriptions {
		if sub.NextPayment.Before(before) {
			out = append(out, r.withCategory(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) UpdateNextPaymentDates(ctx context.Context, updates []models.PaymentDateUpdate) (int, error) {
	if err := r.check(ctx, "UpdateNextPaymentDates", true); err != nil {
		return 0, err
	}
	n := 0
	for _, u := range updates {
		sub, ok := r.data.subscriptions[u.ID]
		if !ok {
			continue
		}
		sub.NextPayment = u.NextPayment
		r.data.subscriptions[u.ID] = sub
		n++
	}
	return n, nil
}

func (r *repo) settingsOrDefault(userID int64, defaultHour int) models.NotificationSettings {
	if ns, ok := r.data.settings[userID]; ok {
		return ns
	}
	return models.DefaultNotificationSettings(userID, defaultHour)
}

func (r *repo) ListSubscriptionsBySetting(ctx context.Context,
	filter storage.SubscriptionFilter) ([]*models.Subscription, error) {
	if err := r.check(ctx, "ListSubscriptionsBySetting", false); err != nil {
		return nil, err
	}
	if !filter.Setting.Valid() {
		return nil, fmt.Errorf("storagetest.ListSubscriptionsBySetting: unknown setting %q", string(filter.Setting))
	}
	var out []*models.Subscription
	for _, sub := range r.data.subscriptions {
		ns := r.settingsOrDefault(sub.UserID, filter.DefaultHour)
		switch {
		case !ns.Enabled(filter.Setting):
			continue
		case filter.Hour != nil && ns.NotifyHour != *filter.Hour:
			continue
		case !filter.From.IsZero() && sub.NextPayment.Before(filter.From):
			continue
		case !filter.To.IsZero() && sub.NextPayment.After(filter.To):
			continue
		case filter.ActiveOnly && !sub.IsActive:
			continue
		}
		out = append(out, r.withCategory(sub))
	}
	sortSubscriptions(out)
	return out, nil
}

func (r *repo) EnsureUser(ctx context.Context, user models.User) error {
	if err := r.check(ctx, "EnsureUser", true); err != nil {
		return err
	}
	if existing, ok := r.data.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.data.users[user.ID] = user
	return nil
}

func (r *repo) GetNotificationSettings(ctx context.Context, userID int64) (*models.NotificationSettings, error) {
	if err := r.check(ctx, "GetNotificationSettings", false); err != nil {
		return nil, err
	}
	ns, ok := r.data.settings[userID]
	if !ok {
		return nil, fmt.Errorf("storagetest.GetNotificationSettings: %w", storage.ErrNotFound)
	}
	return &ns, nil
}

func (r *repo) CreateNotificationSettings(ctx context.Context, settings models.NotificationSettings) error {
	if err := r.check(ctx, "CreateNotificationSettings", true); err != nil {
		return err
	}
	if _, ok := r.data.settings[settings.UserID]; !ok {
		r.data.settings[settings.UserID] = settings
	}
	return nil
}

func (r *repo) UpdateNotificationSettings(ctx context.Context, settings models.NotificationSettings) error {
	if err := r.check(ctx, "UpdateNotificationSettings", true); err != nil {
		return err
	}
	if _, ok := r.data.settings[settings.UserID]; !ok {
		return fmt.Errorf("storagetest.UpdateNotificationSettings: %w", storage.ErrNotFound)
	}
	r.data.settings[settings.UserID] = settings
	return nil
}

func (r *repo) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	if err := r.check(ctx, "CreateCategory", true); err != nil {
		return 0, err
	}
	for _, c := range r.data.categories {
		if c.UserID == userID && c.Name == name {
			return 0, fmt.Errorf("storagetest.CreateCategory: category %q already exists", name)
		}
	}
	r.data.nextID++
	id := r.data.nextID
	r.data.categories[id] = models.Category{ID: id, UserID: userID, Name: name}
	return id, nil
}

func (r *repo) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	if err := r.check(ctx, "ListCategories", false); err != nil {
		return nil, err
	}
	var out []*models.Category
	for _, c := range r.data.categories {
		if c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *repo) DeleteCategory(ctx context.Context, userID, categoryID int64) (int, error) {
	if err := r.check(ctx, "DeleteCategory", true); err != nil {
		return 0, err
	}
	c, ok := r.data.categories[categoryID]
	if !ok || c.UserID != userID {
		return 0, fmt.Errorf("storagetest.DeleteCategory: %w", storage.ErrNotFound)
	}
	detached := 0
	for id, sub := range r.data.subscriptions {
		if sub.UserID == userID && sub.CategoryID != nil && *sub.CategoryID == categoryID {
			sub.CategoryID = nil
			r.data.subscriptions[id] = sub
			detached++
		}
	}
	delete(r.data.categories, categoryID)
	return detached, nil
}

func (r *repo) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	if err := r.check(ctx, "CreateSubscription", true); err != nil {
		return 0, err
	}
	r.data.nextID++
	sub.ID = r.data.nextID
	sub.Currency = models.CurrencyOf(&sub)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	r.data.subscriptions[sub.ID] = sub
	return sub.ID, nil
}

func (r *repo) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	if err := r.check(ctx, "UpdateSubscription", true); err != nil {
		return err
	}
	cur, ok := r.data.subscriptions[sub.ID]
	if !ok || cur.UserID != sub.UserID {
		return fmt.Errorf("storagetest.UpdateSubscription: %w", storage.ErrNotFound)
	}
	cur.CategoryID = sub.CategoryID
	cur.Name = sub.Name
	cur.Price = sub.Price
	cur.Currency = models.CurrencyOf(&sub)
	cur.Period = sub.Period
	cur.NextPayment = sub.NextPayment
	r.data.subscriptions[sub.ID] = cur
	return nil
}

func (r *repo) SetSubscriptionActive(ctx context.Context, userID, subscriptionID int64, active bool) error {
	if err := r.check(ctx, "SetSubscriptionActive", true); err != nil {
		return err
	}
	sub, ok := r.data.subscriptions[subscriptionID]
	if !ok || sub.UserID != userID {
		return fmt.Errorf("storagetest.SetSubscriptionActive: %w", storage.ErrNotFound)
	}
	sub.IsActive = active
	r.data.subscriptions[subscriptionID] = sub
	return nil
}

func (r *repo) DeleteSubscription(ctx context.Context, userID, subscriptionID int64) error {
	if err := r.check(ctx, "DeleteSubscription", true); err != nil {
		return err
	}
	sub, ok := r.data.subscriptions[subscriptionID]
	if !ok || sub.UserID != userID {
		return fmt.Errorf("storagetest.DeleteSubscription: %w", storage.ErrNotFound)
	}
	delete(r.data.subscriptions, subscriptionID)
	return nil
}

func (r *repo) ListSubscriptions(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	if err := r.check(ctx, "ListSubscriptions", false); err != nil {
		return nil, err
	}
	var out []*models.Subscription
	for _, sub := range r.data.subscriptions {
		if sub.UserID == userID {
			out = append(out, r.withCategory(sub))
		}
	}
	sortSubscriptions(out)
	return out, nil
}
