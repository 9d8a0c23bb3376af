package models

import "time"

// Plan представляет строку каталога тарифных планов.
// Каталог заполняется миграцией-сидом и для биллингового ядра доступен
// только на чтение.
type Plan struct {
	ID            string    // Внутренний идентификатор плана (uuid)
	Name          string    // Отображаемое название плана
	Description   string    // Краткое описание возможностей плана
	PriceCents    int       // Цена в центах за период
	Interval      string    // Период оплаты: month или year
	StripePriceID string    // Идентификатор цены в Stripe, пустой у бесплатного плана
	GrantedRole   Role      // Роль, которую выдаёт оплаченный план
	IsActive      bool      // Доступен ли план для покупки
	CreatedAt     time.Time // Дата создания записи
}

// Purchasable сообщает, можно ли открыть checkout-сессию по этому плану.
// План должен быть активен и привязан к цене платёжного шлюза.
func (p *Plan) Purchasable() bool {
	return p.IsActive && p.StripePriceID != ""
}
