// Package rabbitmq содержит публикацию уведомлений о платёжных
// событиях в RabbitMQ. Публикация вызывается реконсилятором уже после
// фиксации перехода и никогда не блокирует подтверждение вебхука.
package rabbitmq

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// PaymentsExchange — exchange для уведомлений о платёжных событиях.
const PaymentsExchange = "payments"

// Publisher публикует сообщения в заданный exchange.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

// Connect устанавливает соединение с RabbitMQ.
func Connect(url string) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, nil
}

// NewPublisher открывает канал и объявляет durable exchange.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	const op = "rabbitmq.NewPublisher"
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Publish публикует сообщение в RabbitMQ.
func (p *Publisher) Publish(routingKey string, message any) error {
	const op = "rabbitmq.Publish"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.ch.Publish(
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает канал публикации.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
