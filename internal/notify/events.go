package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ltvsync/internal/models"
)

// Event types published for finished runs.
const (
	EventRunSucceeded = "sync.run.succeeded"
	EventRunFailed    = "sync.run.failed"
)

// RunEvent is the message body published for every finished run.
type RunEvent struct {
	Type              string                     `json:"type"`
	RunID             uint                       `json:"run_id"`
	RunUUID           string                     `json:"run_uuid"`
	ConfigID          uint                       `json:"config_id"`
	Status            string                     `json:"status"`
	StartedAt         time.Time                  `json:"started_at"`
	CompletedAt       *time.Time                 `json:"completed_at,omitempty"`
	ContactsProcessed int                        `json:"contacts_processed"`
	ContactsMatched   int                        `json:"contacts_matched"`
	AudienceID        *string                    `json:"meta_audience_id,omitempty"`
	LookalikeID       *string                    `json:"meta_lookalike_id,omitempty"`
	Stats             *models.NormalizationStats `json:"normalization_stats,omitempty"`
	Error             string                     `json:"error,omitempty"`
}

// NewRunEvent builds the event for run.
func NewRunEvent(eventType string, run *models.SyncRun, errMsg string) RunEvent {
	return RunEvent{
		Type:              eventType,
		RunID:             run.ID,
		RunUUID:           run.RunUUID,
		ConfigID:          run.ConfigID,
		Status:            run.Status,
		StartedAt:         run.StartedAt,
		CompletedAt:       run.CompletedAt,
		ContactsProcessed: run.ContactsProcessed,
		ContactsMatched:   run.ContactsMatched,
		AudienceID:        run.MetaAudienceID,
		LookalikeID:       run.MetaLookalikeID,
		Stats:             run.Stats(),
		Error:             errMsg,
	}
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// EventPublisher puts run events on a durable RabbitMQ queue.
type EventPublisher struct {
	conn    *amqp.Connection
	channel publisher
	queue   string
	logger  *zap.Logger
}

// NewEventPublisher connects to url and declares queue.
func NewEventPublisher(url, queue string, logger *zap.Logger) (*EventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	logger.Info("RabbitMQ event publisher initialized", zap.String("queue", queue))
	return &EventPublisher{conn: conn, channel: channel, queue: queue, logger: logger}, nil
}

func (p *EventPublisher) RunSucceeded(ctx context.Context, run *models.SyncRun) error {
	return p.publish(ctx, NewRunEvent(EventRunSucceeded, run, ""))
}

func (p *EventPublisher) RunFailed(ctx context.Context, run *models.SyncRun, errMsg string) error {
	return p.publish(ctx, NewRunEvent(EventRunFailed, run, errMsg))
}

func (p *EventPublisher) publish(ctx context.Context, event RunEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.RunUUID,
			Type:         event.Type,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Run event published", zap.String("queue", p.queue), zap.String("type", event.Type))
	return nil
}

// Close closes the channel and connection.
func (p *EventPublisher) Close() error {
	if ch, ok := p.channel.(*amqp.Channel); ok && ch != nil {
		if err := ch.Close(); err != nil {
			p.logger.Warn("Error closing channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Warn("Error closing connection", zap.Error(err))
		}
	}
	return nil
}
