package models

import "time"

// User представляет пользователя бота. ID совпадает с Telegram ID.
type User struct {
	ID        int64
	Username  string
	FullName  string
	CreatedAt time.Time
}

// Category пользовательская метка для группировки подписок.
type Category struct {
	ID     int64
	UserID int64
	Name   string
}
