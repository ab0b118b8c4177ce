// Package push carries push messages over Kafka: a consumer feeding inbound
// payloads to the notification dispatcher and a producer for outbound topics.
package push

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/observability"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives raw push payloads.
type Handler interface {
	HandlePush(ctx context.Context, raw []byte) (notify.Record, error)
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls push messages from Kafka and dispatches them to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *slog.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  slog.Default().With(slog.String("component", "push")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("fetch error", slog.String("error", err.Error()))
			continue
		}

		rec, handleErr := p.handler.HandlePush(ctx, msg.Value)
		switch {
		case errors.Is(handleErr, notify.ErrInvalidPush):
			p.logger.Warn("discarding invalid push payload", slog.String("topic", msg.Topic), slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset), slog.String("error", handleErr.Error()))
			observability.RecordPush("kafka", false)
			// Commit malformed messages to avoid poison-pill loops.
		case handleErr != nil && rec.ID == "":
			p.logger.Error("handler error", slog.String("topic", msg.Topic), slog.Int64("offset", msg.Offset), slog.String("error", handleErr.Error()))
			continue
		case handleErr != nil:
			// Recorded but not persisted; redelivery would duplicate it.
			p.logger.Warn("push recorded without persistence", slog.String("id", rec.ID), slog.String("error", handleErr.Error()))
			observability.RecordPush("kafka", true)
		default:
			observability.RecordPush("kafka", true)
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Warn("commit error", slog.String("error", commitErr.Error()))
		}
	}
}

// ReaderConfig names the consumer group subscription.
type ReaderConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// NewReader builds a consumer-group reader for the push topic.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        1e6,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}
