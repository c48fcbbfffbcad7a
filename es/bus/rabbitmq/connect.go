package rabbitmq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// AuthConfig holds optional SASL PLAIN credentials.
type AuthConfig struct {
	Username string
	Password string
}

// Connect dials url, opens a channel and declares exchange as a durable topic
// exchange. Callers own both returned handles.
func Connect(url, exchange string, auth AuthConfig) (*amqp091.Connection, *amqp091.Channel, error) {
	dialCfg := amqp091.Config{}
	if auth.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: auth.Username, Password: auth.Password}}
	}
	conn, err := amqp091.DialConfig(url, dialCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("declare exchange: %w", err)
		}
	}
	return conn, ch, nil
}
