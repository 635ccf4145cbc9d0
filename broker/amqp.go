package broker

import (
	"context"
	"encoding/json"

	"github.com/utterlabs/utter/spec"
	specBroker "github.com/utterlabs/utter/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ specBroker.Producer = &AMQPBroker{}
var _ specBroker.Consumer = &AMQPBroker{}

const (
	jobEventsExchange   string = "job_events"
	jobEventsRoutingKey        = "terminal"
	jobEventsQueue             = "job_events_notifier"
)

// AMQPBroker carries job events over RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a message broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupJobEventsExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for job events")
	}
	return broker, nil
}

func (a *AMQPBroker) setupJobEventsExchange() error {
	return a.channel.ExchangeDeclare(
		jobEventsExchange, // name
		"direct",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// PublishJobEvent announces a terminal job state to downstream consumers
func (a *AMQPBroker) PublishJobEvent(event *spec.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode job event")
	}
	if err := a.channel.Publish(
		jobEventsExchange,
		jobEventsRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish job event")
	}
	return nil
}

// ReceiveJobEvents returns a channel of decoded job events. The channel
// closes when ctx is cancelled.
func (a *AMQPBroker) ReceiveJobEvents(ctx context.Context) (<-chan *spec.JobEvent, error) {
	if _, err := a.channel.QueueDeclare(
		jobEventsQueue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare job events queue")
	}
	if err := a.channel.QueueBind(
		jobEventsQueue,
		jobEventsRoutingKey,
		jobEventsExchange,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot bind job events queue")
	}

	deliveries, err := a.channel.Consume(
		jobEventsQueue,
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot consume job events queue")
	}

	events := make(chan *spec.JobEvent)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var event spec.JobEvent
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					continue
				}
				events <- &event
			}
		}
	}()

	return events, nil
}
