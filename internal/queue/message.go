package queue

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message wraps an Event with its RabbitMQ delivery information
type Message struct {
	Event       *Event
	DeliveryTag uint64
	Channel     amqp.Acknowledger
}

// newMessage decodes a delivery body into a Message
func newMessage(d amqp.Delivery) (*Message, error) {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event %s has no type", event.ID)
	}
	return &Message{
		Event:       &event,
		DeliveryTag: d.DeliveryTag,
		Channel:     d.Acknowledger,
	}, nil
}

// Ack acknowledges the message
func (m *Message) Ack() error {
	return m.Channel.Ack(m.DeliveryTag, false)
}

// Nack negatively acknowledges the message
func (m *Message) Nack(requeue bool) error {
	return m.Channel.Nack(m.DeliveryTag, false, requeue)
}

// GetEvent returns the decoded event
func (m *Message) GetEvent() *Event {
	return m.Event
}
