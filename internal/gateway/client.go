// Package gateway реализует клиент платёжного шлюза Stripe:
// создание checkout-сессий через REST API и криптографическую
// проверку входящих вебхуков.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiBase = "https://api.stripe.com"

// Метаданные, вкладываемые в checkout-сессию. Шлюз возвращает их
// без изменений в событии завершённого checkout — это единственный
// способ скоррелировать событие с внутренними сущностями.
const (
	MetadataUserUID = "internal_user_id"
	MetadataPlanID  = "internal_plan_id"
)

// Client — клиент REST API Stripe. Создаётся один раз при старте
// процесса и передаётся по ссылке потребителям, без глобального
// состояния.
type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент Stripe. Пустой apiURL означает
// боевой адрес API; в тестах сюда передаётся адрес httptest-сервера.
// Таймаут ограничивает каждый исходящий запрос к шлюзу.
func NewClient(secretKey, apiURL string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = apiBase
	}
	return &Client{
		secretKey:  secretKey,
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CheckoutSessionParams — параметры новой checkout-сессии.
type CheckoutSessionParams struct {
	PriceID       string // Идентификатор цены в Stripe
	CustomerEmail string // Почта покупателя для привязки сессии
	SuccessURL    string // Возврат после успешной оплаты
	CancelURL     string // Возврат после отказа от оплаты
	UserUID       string // Внутренний идентификатор пользователя (метаданные)
	PlanID        string // Внутренний идентификатор плана (метаданные)
}

// CheckoutSession — ответ шлюза на создание сессии.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession открывает новую checkout-сессию в режиме
// подписки на одну единицу указанной цены.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	const op = "gateway.CreateCheckoutSession"

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}
	form.Set("metadata["+MetadataUserUID+"]", p.UserUID)
	form.Set("metadata["+MetadataPlanID+"]", p.PlanID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: unexpected status %s: %s", op, resp.Status, body)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("%s: empty redirect url in response", op)
	}
	return &session, nil
}
