package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/armysheng/ai-mail/dto"
	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
)

const (
	ExchangeMailDirect = "ai-mail-direct"
	ExchangeDeadLetter = "dead-letter"

	QueueEmailReceived = "email-received"
	QueueSyncCompleted = "sync-completed"
	DLQEmailReceived   = QueueEmailReceived + "-dlq"
	DLQSyncCompleted   = QueueSyncCompleted + "-dlq"

	RoutingKeyDeadLetter    = "dead-letter"
	RoutingKeyEmailReceived = "mail-email-received"
	RoutingKeySyncCompleted = "mail-sync-completed"

	DefaultMessageTTL          = 240 * time.Hour // after TTL message moves to DLQ
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

type RabbitMQPublisher struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex
	url             string
	logger          logger.Logger
	confirms        chan amqp091.Confirmation
}

func NewRabbitMQPublisher(rabbitmqURL string, logger logger.Logger) (*RabbitMQPublisher, error) {
	publisher := &RabbitMQPublisher{
		url:    rabbitmqURL,
		logger: logger,
	}

	if err := publisher.connect(); err != nil {
		return nil, err
	}

	return publisher, nil
}

func (r *RabbitMQPublisher) PublishEmailReceived(ctx context.Context, accountID, emailID string) error {
	event := dto.EmailReceivedEvent{
		AccountID:  accountID,
		EmailID:    emailID,
		ReceivedAt: utils.Now(),
	}
	return r.publishMessageOnExchange(ctx, event, ExchangeMailDirect, RoutingKeyEmailReceived)
}

func (r *RabbitMQPublisher) PublishSyncCompleted(ctx context.Context, accountID string, newEmails int) error {
	event := dto.SyncCompletedEvent{
		AccountID:   accountID,
		NewEmails:   newEmails,
		CompletedAt: utils.Now(),
	}
	return r.publishMessageOnExchange(ctx, event, ExchangeMailDirect, RoutingKeySyncCompleted)
}

func (r *RabbitMQPublisher) Close() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.publishChannel != nil && !r.publishChannel.IsClosed() {
		r.publishChannel.Close()
	}
	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}

func (r *RabbitMQPublisher) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	r.connection, err = amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}

	if err := r.setupExchangesAndQueues(); err != nil {
		return errors.Wrap(err, "Failed to setup exchanges and queues")
	}

	if err := r.setupPublishChannel(); err != nil {
		return errors.Wrap(err, "Failed to setup publish channel")
	}

	go r.handleReconnection()

	return nil
}

func (r *RabbitMQPublisher) setupPublishChannel() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open publish channel")
	}

	// Enable publisher confirms
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "Failed to enable publisher confirms")
	}

	r.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	r.publishChannel = channel
	return nil
}

// handleReconnection watches one connection. A successful reconnect
// spawns a fresh watcher through connect, so this one exits.
func (r *RabbitMQPublisher) handleReconnection() {
	notifyClose := r.connection.NotifyClose(make(chan *amqp091.Error))
	err := <-notifyClose
	if err == nil {
		// Clean shutdown
		return
	}
	r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", err)

	backoff := DefaultReconnectBackoff
	for {
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}

		r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)
		time.Sleep(backoff)

		backoff *= 2
		if backoff > DefaultMaxReconnectBackoff {
			backoff = DefaultMaxReconnectBackoff
		}
	}
}

func (r *RabbitMQPublisher) setupExchangesAndQueues() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open channel for exchange/queue setup")
	}
	defer channel.Close()

	err = channel.ExchangeDeclare(
		ExchangeDeadLetter,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return errors.Wrap(err, "Failed to declare dead letter exchange")
	}

	err = channel.ExchangeDeclare(
		ExchangeMailDirect,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "Failed to declare ai-mail-direct exchange")
	}

	bindings := []struct {
		queueName  string
		dlqName    string
		routingKey string
	}{
		{QueueEmailReceived, DLQEmailReceived, RoutingKeyEmailReceived},
		{QueueSyncCompleted, DLQSyncCompleted, RoutingKeySyncCompleted},
	}

	for _, b := range bindings {
		if err := r.declareQueueWithDLQ(channel, b.queueName, b.dlqName); err != nil {
			return err
		}
		err = channel.QueueBind(
			b.queueName,
			b.routingKey,
			ExchangeMailDirect,
			false,
			nil,
		)
		if err != nil {
			return errors.Wrapf(err, "Failed to bind queue %s to exchange %s", b.queueName, ExchangeMailDirect)
		}
	}

	return nil
}

func (r *RabbitMQPublisher) declareQueueWithDLQ(channel *amqp091.Channel, queueName string, dlqName string) error {
	_, err := channel.QueueDeclare(
		dlqName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare DLQ %s", dlqName)
	}

	err = channel.QueueBind(
		dlqName,
		RoutingKeyDeadLetter,
		ExchangeDeadLetter,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to bind DLQ %s to exchange", dlqName)
	}

	args := make(map[string]interface{})
	args["x-dead-letter-exchange"] = ExchangeDeadLetter
	args["x-dead-letter-routing-key"] = RoutingKeyDeadLetter
	args["x-message-ttl"] = int64(DefaultMessageTTL.Milliseconds())

	_, err = channel.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		args,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare queue %s", queueName)
	}

	return nil
}

func (r *RabbitMQPublisher) ensureConnectionAndChannel() error {
	if r.connection == nil || r.connection.IsClosed() {
		if err := r.connect(); err != nil {
			return errors.Wrap(err, "Failed to establish connection")
		}
	}

	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		if err := r.setupPublishChannel(); err != nil {
			return errors.Wrap(err, "Failed to establish channel")
		}
	}

	return nil
}

func (r *RabbitMQPublisher) publishMessageOnExchange(ctx context.Context, message interface{}, exchange, routingKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.publishMessageOnExchange")
	defer span.Finish()
	span.SetTag("exchange", exchange)
	span.SetTag("routing-key", routingKey)

	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	if err := r.ensureConnectionAndChannel(); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	body, err := json.Marshal(message)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "Failed to marshal event")
	}

	publishCtx, cancel := context.WithTimeout(ctx, DefaultPublishTimeout)
	defer cancel()

	err = r.publishChannel.PublishWithContext(
		publishCtx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    utils.Now(),
			Body:         body,
		},
	)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "Failed to publish event")
	}

	select {
	case confirm := <-r.confirms:
		if !confirm.Ack {
			err := errors.New("event publish was not confirmed by broker")
			tracing.TraceErr(span, err)
			return err
		}
	case <-publishCtx.Done():
		err := errors.New("timed out waiting for publish confirmation")
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

// NoopPublisher is wired when no broker is configured. Sync carries on
// without downstream notifications.
type NoopPublisher struct{}

func NewNoopPublisher() interfaces.EventPublisher {
	return &NoopPublisher{}
}

func (n *NoopPublisher) PublishEmailReceived(ctx context.Context, accountID, emailID string) error {
	return nil
}

func (n *NoopPublisher) PublishSyncCompleted(ctx context.Context, accountID string, newEmails int) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
