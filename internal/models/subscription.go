// Package models содержит доменные структуры трекера подписок: пользователей,
// категории, подписки, настройки уведомлений и сводки расходов.
// Структуры используются в бизнес-логике планировщика и в слое хранилища.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription представляет регулярный платёж пользователя.
// NextPayment хранит только дату (полночь UTC), время суток не используется.
type Subscription struct {
	ID           int64           // Идентификатор подписки
	UserID       int64           // Telegram ID владельца
	CategoryID   *int64          // Категория, nil, если без категории
	CategoryName string          // Название категории (заполняется при выборке, может быть пустым)
	Name         string          // Название сервиса
	Price        decimal.Decimal // Стоимость за один период
	Currency     string          // Валюта для отображения
	Period       Period          // Период списания
	NextPayment  time.Time       // Дата следующего списания
	IsActive     bool            // false, если подписка на паузе
	CreatedAt    time.Time       // Время создания записи
}

// PaymentDateUpdate описывает новую дату списания для одной подписки.
// Используется движком сдвига дат при пакетном сохранении.
type PaymentDateUpdate struct {
	ID          int64
	NextPayment time.Time
}

// OutgoingMessage сообщение для пользователя, которое передаётся через очередь
// от планировщика к сервису отправки.
type OutgoingMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}
