package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// Terminal job event types.
const (
	EventTypeJobCompleted = "job.completed"
	EventTypeJobFailed    = "job.failed"
	EventTypeJobCancelled = "job.cancelled"
)

// JobEvent is the JSON payload published for a terminal job transition.
type JobEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	QueryTerms   []string  `json:"query_terms"`
	ResultRef    string    `json:"result_ref,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EmitterConfig holds configuration for the result emitter.
type EmitterConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for terminal job events.
	Topic string
}

// Emitter publishes terminal job events to Kafka. It satisfies jobs.Notifier;
// publishing is best-effort and never affects the job's persisted state.
type Emitter struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewEmitter creates a new job event emitter.
func NewEmitter(cfg EmitterConfig, logger zerolog.Logger) *Emitter {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &Emitter{
		writer: writer,
		logger: logger.With().Str("component", "result_emitter").Logger(),
	}
}

// JobCompleted publishes a job.completed event.
func (e *Emitter) JobCompleted(ctx context.Context, job *domain.Job) {
	e.emit(ctx, EventTypeJobCompleted, job)
}

// JobFailed publishes a job.failed event.
func (e *Emitter) JobFailed(ctx context.Context, job *domain.Job) {
	e.emit(ctx, EventTypeJobFailed, job)
}

// JobCancelled publishes a job.cancelled event.
func (e *Emitter) JobCancelled(ctx context.Context, job *domain.Job) {
	e.emit(ctx, EventTypeJobCancelled, job)
}

func (e *Emitter) emit(ctx context.Context, eventType string, job *domain.Job) {
	msg, err := buildEventMessage(eventType, job)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to build job event")
		return
	}

	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.logger.Error().Err(err).
			Str("job_id", job.ID.String()).
			Str("event_type", eventType).
			Msg("failed to publish job event")
		return
	}

	e.logger.Debug().
		Str("job_id", job.ID.String()).
		Str("event_type", eventType).
		Msg("published job event")
}

// buildEventMessage constructs the Kafka message for a terminal transition.
// The job ID is the message key, so events for one job stay ordered within a
// partition.
func buildEventMessage(eventType string, job *domain.Job) (kafka.Message, error) {
	event := JobEvent{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		JobID:        job.ID.String(),
		Status:       string(job.Status),
		QueryTerms:   job.Request.QueryTerms,
		ResultRef:    job.ResultRef,
		ErrorMessage: job.ErrorMessage,
		OccurredAt:   time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal job event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(job.ID.String()),
		Value: value,
	}, nil
}

// Close closes the Kafka writer.
func (e *Emitter) Close() error {
	e.logger.Info().Msg("closing result emitter")
	return e.writer.Close()
}
