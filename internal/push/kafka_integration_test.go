//go:build integration

package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/edgeagent/internal/notify"
)

func startKafka(ctx context.Context, t *testing.T, topics ...string) string {
	t.Helper()
	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	for _, topic := range topics {
		require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	}
	return brokers[0]
}

func TestKafkaPushReachesDispatcherAndSnapshotIsPublished(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	const pushTopic, snapshotTopic = "edge_push", "edge_notifications"
	broker := startKafka(ctx, t, pushTopic, snapshotTopic)

	dispatcher, err := notify.NewDispatcher(ctx, notify.NewMemoryStore())
	require.NoError(t, err)

	producer := NewProducer([]string{broker})
	defer producer.Close()

	sinkCtx, stopSink := context.WithCancel(ctx)
	sink := notify.NewKafkaSink(producer, snapshotTopic, nil)
	unsubscribe := dispatcher.Subscribe(sink.Listener())
	go sink.Start(sinkCtx)
	defer func() {
		unsubscribe()
		stopSink()
		sink.Wait()
	}()

	reader := NewReader(ReaderConfig{Brokers: []string{broker}, GroupID: "edge-integration", Topic: pushTopic})
	defer reader.Close()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		_ = NewProcessor(reader, dispatcher).Run(consumerCtx)
	}()

	require.NoError(t, producer.WriteMessages(ctx, pushTopic, kafka.Message{
		Value: []byte(`{"title":"Promo","body":"Aula extra hoje","data":{"url":"/gyms/42"}}`),
	}))

	require.Eventually(t, func() bool {
		return len(dispatcher.List()) == 1
	}, 90*time.Second, 200*time.Millisecond)
	rec := dispatcher.List()[0]
	require.Equal(t, "Promo", rec.Title)
	require.Equal(t, "/gyms/42", rec.ActionURL)

	snapshots := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       snapshotTopic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer snapshots.Close()

	readCtx, cancelRead := context.WithTimeout(ctx, time.Minute)
	defer cancelRead()
	msg, err := snapshots.ReadMessage(readCtx)
	require.NoError(t, err)
	require.Equal(t, notify.StorageKey, string(msg.Key))

	var snap notify.Snapshot
	require.NoError(t, json.Unmarshal(msg.Value, &snap))
	require.Equal(t, 1, snap.Unread)
	require.Equal(t, rec.ID, snap.Notifications[0].ID)
}
