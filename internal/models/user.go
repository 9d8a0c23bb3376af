// Package models содержит доменные структуры биллингового ядра:
// пользователей, тарифные планы, подписки и записи журнала платежей.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Role определяет уровень доступа пользователя к платным функциям.
type Role string

const (
	// RoleBasic — базовый (бесплатный) уровень доступа.
	RoleBasic Role = "basic"
	// RolePremium — уровень доступа, выдаваемый платной подпиской.
	RolePremium Role = "premium"
	// RoleAdmin — служебная роль администратора.
	RoleAdmin Role = "admin"
)

// User представляет зарегистрированного пользователя системы.
type User struct {
	UUID         string    // Уникальный идентификатор пользователя
	Email        string    // Электронная почта (уникальная)
	Username     string    // Имя пользователя (уникальное)
	PasswordHash string    // Хэш пароля пользователя
	Role         Role      // Текущая роль доступа: basic, premium или admin
	CreatedAt    time.Time // Дата регистрации
	UpdatedAt    time.Time // Дата последнего изменения
}

// RegisterRequest используется для приёма данных регистрации из JSON-запроса.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,alphanum"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest используется для приёма данных авторизации из JSON-запроса.
type LoginRequest struct {
	Username string `json:"username" validate:"required,alphanum"`
	Password string `json:"password" validate:"required"`
}
