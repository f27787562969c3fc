package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/naperu/estatebot/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const producer = "estatebot"

// Meta describes an event on the bus.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
}

type Envelope struct {
	Meta Meta         `json:"meta"`
	Data domain.Event `json:"data"`
}

// RoutingKey is the topic key of an event kind, e.g. lead.lead_accepted.
func RoutingKey(kind domain.EventKind) string {
	return "lead." + string(kind)
}

func NewEnvelope(ev domain.Event) Envelope {
	p := producer
	cid := ev.ID.String()
	if ev.Lead != nil {
		cid = ev.Lead.ID.String()
	}
	return Envelope{
		Meta: Meta{
			ID:            ev.ID.String(),
			Type:          RoutingKey(ev.Kind) + ".v1",
			Time:          ev.OccurredAt,
			CorrelationID: &cid,
			Producer:      &p,
		},
		Data: ev,
	}
}

// AMQPPublisher publishes lead events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      *logrus.Entry
}

func NewAMQPPublisher(url, exchange string, log *logrus.Entry) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, log: log}, nil
}

// Publish sends ev and waits for the broker confirmation.
func (p *AMQPPublisher) Publish(ctx context.Context, ev domain.Event) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	env := NewEnvelope(ev)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := RoutingKey(ev.Kind)
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: *env.Meta.CorrelationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("broker rejected %s", key)
	}

	p.log.WithFields(logrus.Fields{"key": key, "exchange": p.exchange}).Debug("event published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
