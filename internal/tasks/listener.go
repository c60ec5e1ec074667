// Package tasks connects the job manager to Kafka: a listener that turns
// aggregation request messages into jobs, and an emitter that publishes
// terminal job events.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// AggregationRequestMessage is the JSON payload of a request message.
type AggregationRequestMessage struct {
	QueryTerms []string `json:"query_terms"`
	Domain     string   `json:"domain,omitempty"`
	TargetSize int      `json:"target_size"`
	Sources    []string `json:"sources,omitempty"`
}

// JobSubmitter accepts aggregation requests. Satisfied by jobs.Manager.
type JobSubmitter interface {
	Submit(ctx context.Context, req domain.AnalysisRequest) (*domain.Job, error)
}

// ListenerConfig holds configuration for the request listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic carrying aggregation requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes aggregation requests from Kafka and submits them as jobs.
type Listener struct {
	reader    *kafka.Reader
	submitter JobSubmitter
	logger    zerolog.Logger
}

// NewListener creates a new aggregation request listener.
func NewListener(cfg ListenerConfig, submitter JobSubmitter, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	return &Listener{
		reader:    reader,
		submitter: submitter,
		logger:    logger.With().Str("component", "request_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting aggregation request listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("request listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received aggregation request")

		if err := l.handleMessage(ctx, msg.Value); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to handle aggregation request")
		}
	}
}

// handleMessage decodes one request payload and submits it. Malformed or
// invalid requests are dropped with an error; the offset is still committed so
// a bad message never wedges the partition.
func (l *Listener) handleMessage(ctx context.Context, value []byte) error {
	var msg AggregationRequestMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("unmarshal aggregation request: %w", err)
	}

	req := domain.AnalysisRequest{
		QueryTerms: msg.QueryTerms,
		Domain:     msg.Domain,
		TargetSize: msg.TargetSize,
	}
	for _, name := range msg.Sources {
		req.Sources = append(req.Sources, domain.SourceType(name))
	}

	job, err := l.submitter.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	l.logger.Info().
		Str("job_id", job.ID.String()).
		Strs("query_terms", msg.QueryTerms).
		Msg("submitted job from Kafka request")
	return nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing request listener")
	return l.reader.Close()
}
