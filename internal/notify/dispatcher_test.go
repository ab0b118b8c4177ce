package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	badgerstore "example.com/edgeagent/internal/storage/badger"
)

type recordingNavigator struct {
	urls []string
}

func (n *recordingNavigator) Navigate(_ context.Context, url string) error {
	n.urls = append(n.urls, url)
	return nil
}

type recordingAlerter struct {
	alerts []Alert
}

func (a *recordingAlerter) Show(_ context.Context, alert Alert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

type failingStore struct {
	MemoryStore
}

func (f *failingStore) Save(context.Context, []Record) error {
	return errors.New("disk full")
}

func newDispatcher(t *testing.T, store Store, opts ...Option) *Dispatcher {
	t.Helper()
	clock := time.UnixMilli(1_700_000_000_000)
	opts = append([]Option{WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	})}, opts...)
	d, err := NewDispatcher(context.Background(), store, opts...)
	require.NoError(t, err)
	return d
}

func info(i int) Notification {
	return Notification{Title: fmt.Sprintf("n%d", i), Message: "m", Type: SeverityInfo}
}

func TestAddInsertsAtHeadAndCaps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d := newDispatcher(t, store)

	for i := 0; i < MaxRecords+5; i++ {
		_, err := d.Add(ctx, info(i))
		require.NoError(t, err)
	}

	list := d.List()
	require.Len(t, list, MaxRecords)
	require.Equal(t, fmt.Sprintf("n%d", MaxRecords+4), list[0].Title)
	require.Equal(t, "n5", list[MaxRecords-1].Title)
	require.False(t, list[0].IsRead)
	require.NotEmpty(t, list[0].ID)
	require.Greater(t, list[0].Timestamp, list[1].Timestamp)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, list, persisted)

	reloaded := newDispatcher(t, store)
	require.Equal(t, list, reloaded.List())
}

func TestAddRejectsUnknownSeverity(t *testing.T) {
	d := newDispatcher(t, NewMemoryStore())
	_, err := d.Add(context.Background(), Notification{Title: "x", Type: "urgent"})
	require.ErrorIs(t, err, ErrInvalidSeverity)
	require.Empty(t, d.List())
}

func TestReadStateTransitions(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher(t, NewMemoryStore())

	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		rec, err := d.Add(ctx, info(i))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	for _, id := range ids[3:] {
		require.NoError(t, d.MarkAsRead(ctx, id))
	}
	require.Equal(t, 3, d.UnreadCount())

	require.NoError(t, d.MarkAllAsRead(ctx))
	require.Equal(t, 0, d.UnreadCount())
	require.Len(t, d.List(), 12)

	require.NoError(t, d.ClearAll(ctx))
	require.Empty(t, d.List())
	require.Equal(t, 0, d.UnreadCount())

	require.ErrorIs(t, d.MarkAsRead(ctx, ids[0]), ErrNotFound)
	require.ErrorIs(t, d.Remove(ctx, ids[0]), ErrNotFound)
}

func TestSubscribersReceiveFullList(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher(t, NewMemoryStore())

	var mu sync.Mutex
	var seen [][]Record
	unsubscribe := d.Subscribe(func(records []Record) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, records)
	})

	first, err := d.Add(ctx, info(1))
	require.NoError(t, err)
	_, err = d.Add(ctx, info(2))
	require.NoError(t, err)
	seen[1][0].Title = "mutated by listener"
	require.Equal(t, "n2", d.List()[0].Title)
	require.NoError(t, d.Remove(ctx, first.ID))
	require.NoError(t, d.ClearAll(ctx))

	require.Len(t, seen, 4)
	require.Len(t, seen[0], 1)
	require.Len(t, seen[1], 2)
	require.Len(t, seen[2], 1)
	require.Equal(t, "n2", seen[2][0].Title)
	require.Empty(t, seen[3])

	unsubscribe()
	_, err = d.Add(ctx, info(3))
	require.NoError(t, err)
	require.Len(t, seen, 4)
}

func TestMarkAsReadOnMissingRecordDoesNotBroadcast(t *testing.T) {
	d := newDispatcher(t, NewMemoryStore())
	calls := 0
	d.Subscribe(func([]Record) { calls++ })

	require.ErrorIs(t, d.MarkAsRead(context.Background(), "nope"), ErrNotFound)
	require.Zero(t, calls)
}

func TestSaveFailureKeepsChange(t *testing.T) {
	d := newDispatcher(t, &failingStore{})
	rec, err := d.Add(context.Background(), info(1))
	require.Error(t, err)
	require.NotEmpty(t, rec.ID)
	require.Len(t, d.List(), 1)
}

func TestClickMarksReadAndNavigates(t *testing.T) {
	ctx := context.Background()
	nav := &recordingNavigator{}
	d := newDispatcher(t, NewMemoryStore(), WithNavigator(nav))

	rec, err := d.Add(ctx, CapacityAlert("Gym A"))
	require.NoError(t, err)
	plain, err := d.Add(ctx, CheckinSuccess("Gym A"))
	require.NoError(t, err)

	target, err := d.Click(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "/checkin", target)
	require.Equal(t, []string{"/checkin"}, nav.urls)

	target, err = d.Click(ctx, plain.ID)
	require.NoError(t, err)
	require.Empty(t, target)
	require.Len(t, nav.urls, 1)
	require.Equal(t, 0, d.UnreadCount())
}

func TestParsePush(t *testing.T) {
	p, err := ParsePush(nil)
	require.NoError(t, err)
	require.Equal(t, Push{Title: DefaultPushTitle, Body: DefaultPushBody, URL: "/"}, p)

	p, err = ParsePush([]byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, DefaultPushTitle, p.Title)

	p, err = ParsePush([]byte(`{"title":"Promo","body":"50% off","data":{"url":"/plans"},"icon":"/x.png"}`))
	require.NoError(t, err)
	require.Equal(t, Push{Title: "Promo", Body: "50% off", URL: "/plans"}, p)

	for _, raw := range []string{`{"title":5}`, `{"data":"x"}`, `{"data":{"url":true}}`, `[1]`, `not json`} {
		_, err := ParsePush([]byte(raw))
		require.ErrorIs(t, err, ErrInvalidPush, raw)
	}
}

func TestPushCloseActionDoesNotNavigate(t *testing.T) {
	ctx := context.Background()
	nav := &recordingNavigator{}
	alerts := &recordingAlerter{}
	d := newDispatcher(t, NewMemoryStore(), WithNavigator(nav), WithAlerter(alerts))

	rec, err := d.HandlePush(ctx, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, DefaultPushTitle, rec.Title)
	require.Equal(t, DefaultPushBody, rec.Message)
	require.Equal(t, SeverityInfo, rec.Type)

	require.Len(t, alerts.alerts, 1)
	require.Equal(t, rec.ID, alerts.alerts[0].ID)
	require.Equal(t, PushActions, alerts.alerts[0].Actions)

	target, err := d.HandleAlertAction(ctx, rec.ID, ActionClose)
	require.NoError(t, err)
	require.Empty(t, target)
	require.Empty(t, nav.urls)

	got, err := d.Get(rec.ID)
	require.NoError(t, err)
	require.True(t, got.IsRead)
	require.Len(t, d.List(), 1)
}

func TestPushOpenActionNavigates(t *testing.T) {
	ctx := context.Background()
	nav := &recordingNavigator{}
	d := newDispatcher(t, NewMemoryStore(), WithNavigator(nav))

	rec, err := d.HandlePush(ctx, []byte(`{"title":"Aula","data":{"url":"/classes/3"}}`))
	require.NoError(t, err)

	target, err := d.HandleAlertAction(ctx, rec.ID, ActionOpen)
	require.NoError(t, err)
	require.Equal(t, "/classes/3", target)

	bare, err := d.HandlePush(ctx, []byte(`{}`))
	require.NoError(t, err)
	target, err = d.HandleAlertAction(ctx, bare.ID, "")
	require.NoError(t, err)
	require.Equal(t, "/", target)
	require.Equal(t, []string{"/classes/3", "/"}, nav.urls)

	_, err = d.HandlePush(ctx, []byte(`{"body":false}`))
	require.ErrorIs(t, err, ErrInvalidPush)
	require.Len(t, d.List(), 2)
}

func TestSeverityJSON(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","type":"warning"}`), &rec))
	require.Equal(t, SeverityWarning, rec.Type)
	require.ErrorIs(t, json.Unmarshal([]byte(`{"id":"1","type":"fatal"}`), &rec), ErrInvalidSeverity)
}

func TestBadgerStorePersistsUnderFixedKey(t *testing.T) {
	ctx := context.Background()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	d := newDispatcher(t, NewBadgerStore(db))
	_, err = d.Add(ctx, Welcome("Ana"))
	require.NoError(t, err)

	raw, err := db.Get(ctx, []byte(StorageKey))
	require.NoError(t, err)
	var records []Record
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)
	require.Equal(t, "Bem-vindo ao Unipass!", records[0].Title)

	require.NoError(t, db.Set(ctx, []byte(StorageKey), []byte("{broken")))
	recovered := newDispatcher(t, NewBadgerStore(db))
	require.Empty(t, recovered.List())
}

type stubWriter struct {
	mu       sync.Mutex
	topic    string
	messages []kafka.Message
	written  chan struct{}
}

func (w *stubWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.topic = topic
	w.messages = append(w.messages, msgs...)
	w.mu.Unlock()
	w.written <- struct{}{}
	return nil
}

func TestKafkaSinkPublishesSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &stubWriter{written: make(chan struct{}, 4)}
	sink := NewKafkaSink(writer, "notifications", nil)
	go sink.Start(ctx)

	d := newDispatcher(t, NewMemoryStore())
	d.Subscribe(sink.Listener())
	_, err := d.Add(ctx, WeeklySummary(4, 6))
	require.NoError(t, err)

	select {
	case <-writer.written:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not published")
	}
	cancel()
	sink.Wait()

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Equal(t, "notifications", writer.topic)
	require.Len(t, writer.messages, 1)
	require.Equal(t, StorageKey, string(writer.messages[0].Key))

	var snap Snapshot
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &snap))
	require.Equal(t, 1, snap.Unread)
	require.Equal(t, "Resumo Semanal", snap.Notifications[0].Title)
}

func TestInboxHoldsAlertsUntilActedOn(t *testing.T) {
	ctx := context.Background()
	inbox := NewInbox()
	d := newDispatcher(t, NewMemoryStore(), WithAlerter(inbox))

	first, err := d.HandlePush(ctx, []byte(`{"title":"Aula","data":{"url":"/classes/3"}}`))
	require.NoError(t, err)
	second, err := d.HandlePush(ctx, []byte(`{}`))
	require.NoError(t, err)

	pending := inbox.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, "/classes/3", pending[0].URL)
	require.Equal(t, PushActions, pending[1].Actions)
	require.Equal(t, DefaultPushURL, pending[1].URL)

	_, err = d.HandleAlertAction(ctx, first.ID, ActionClose)
	require.NoError(t, err)
	require.Len(t, inbox.Pending(), 1)

	taken := inbox.Take()
	require.Len(t, taken, 1)
	require.Equal(t, second.ID, taken[0].ID)
	require.Empty(t, inbox.Take())
}

func TestInboxIsBounded(t *testing.T) {
	inbox := NewInbox()
	for i := 0; i < MaxPendingAlerts+5; i++ {
		require.NoError(t, inbox.Show(context.Background(), Alert{ID: fmt.Sprint(i)}))
	}
	pending := inbox.Pending()
	require.Len(t, pending, MaxPendingAlerts)
	require.Equal(t, "5", pending[0].ID)
}
