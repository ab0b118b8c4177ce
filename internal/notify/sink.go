package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// SnapshotEventType tags every list snapshot published by KafkaSink.
const SnapshotEventType = "notifications.snapshot"

// MessageWriter publishes records to a topic.
type MessageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Snapshot is the document published for every list change.
type Snapshot struct {
	Unread        int      `json:"unread"`
	Notifications []Record `json:"notifications"`
}

// KafkaSink mirrors the notification list to a Kafka topic so other
// surfaces can render the badge. Only the latest pending snapshot is kept.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	logger  *slog.Logger
	pending chan []Record

	shutdownComplete chan struct{}
}

// NewKafkaSink constructs a KafkaSink. A nil logger uses slog.Default.
func NewKafkaSink(writer MessageWriter, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		writer:           writer,
		topic:            topic,
		logger:           logger.With(slog.String("component", "notify-sink")),
		pending:          make(chan []Record, 1),
		shutdownComplete: make(chan struct{}),
	}
}

// Listener returns a non-blocking Listener to pass to Dispatcher.Subscribe.
func (s *KafkaSink) Listener() Listener {
	return s.offer
}

func (s *KafkaSink) offer(records []Record) {
	for {
		select {
		case s.pending <- records:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

// Start publishes pending snapshots until ctx is done. It should be called in a goroutine.
func (s *KafkaSink) Start(ctx context.Context) {
	defer close(s.shutdownComplete)
	for {
		select {
		case <-ctx.Done():
			return
		case records := <-s.pending:
			if err := s.publish(ctx, records); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("publishing notification snapshot failed", slog.String("topic", s.topic), slog.String("error", err.Error()))
			}
		}
	}
}

// Wait waits until Start returns.
func (s *KafkaSink) Wait() {
	<-s.shutdownComplete
}

func (s *KafkaSink) publish(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	body, err := json.Marshal(Snapshot{Unread: unread(records), Notifications: records})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, s.topic, kafka.Message{
		Key:   []byte(StorageKey),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(SnapshotEventType)},
		},
	})
}
