package mq

import amqp "github.com/rabbitmq/amqp091-go"

const EventsExchange = "hub.events"

func NewConnection(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

// OpenEventsChannel opens a channel with the durable topic exchange declared.
func OpenEventsChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}
