package models

import "time"

// SubscriptionStatus описывает состояние подписки в машине состояний
// биллингового ядра. Переходы между состояниями выполняются только
// реконсилятором при обработке событий платёжного шлюза.
type SubscriptionStatus string

const (
	// StatusInactive — начальное и терминальное состояние, платного доступа нет.
	StatusInactive SubscriptionStatus = "inactive"
	// StatusTrialing — пробный период, платный доступ выдан.
	StatusTrialing SubscriptionStatus = "trialing"
	// StatusActive — оплаченная подписка, платный доступ выдан.
	StatusActive SubscriptionStatus = "active"
	// StatusPastDue — платёж не прошёл, действует льготный период.
	StatusPastDue SubscriptionStatus = "past_due"
	// StatusCanceled — подписка отменена шлюзом или пользователем.
	StatusCanceled SubscriptionStatus = "canceled"
)

// RoleForStatus возвращает роль, которую обязана выдавать подписка
// в данном статусе. Поле CurrentRole подписки всегда должно совпадать
// с результатом этой функции — роль никогда не меняется отдельно
// от смены статуса.
//
// В статусе past_due роль плана сохраняется: льготный период до
// повторного списания. Только canceled и inactive понижают до basic.
func RoleForStatus(status SubscriptionStatus, granted Role) Role {
	switch status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return granted
	default:
		return RoleBasic
	}
}

// Subscription — авторитетная запись о платном доступе пользователя.
// Хранится по одной на пользователя, создаётся лениво при первом
// успешном checkout и далее никогда не удаляется, только меняет статус.
type Subscription struct {
	ID               int64              // Внутренний идентификатор записи
	UserUID          string             // Владелец подписки (уникален)
	ExternalID       string             // Идентификатор подписки в Stripe, пустой до первого checkout
	Status           SubscriptionStatus // Текущее состояние машины состояний
	CurrentRole      Role               // Роль, выданная этой подпиской
	PlanID           string             // Последний оплаченный план
	CurrentPeriodEnd *time.Time         // Конец оплаченного периода
	CanceledAt       *time.Time         // Момент отмены, nil если не отменялась
	CreatedAt        time.Time          // Дата создания записи
	UpdatedAt        time.Time          // Дата последнего перехода
}
