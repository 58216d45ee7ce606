package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMQTT struct {
	topics       []string
	payloads     [][]byte
	err          error
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return doneToken{err: f.err}
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

type fakeKafka struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error { f.closed = true; return nil }

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{}
	p := newMQTTPublisher(client, "neurobile/decisions")

	require.NoError(t, p.Publish(context.Background(), Event{SessionID: "s1", Kind: KindDecision, At: at, Source: "classifier", Command: "left"}))
	require.Equal(t, []string{"neurobile/decisions/decision"}, client.topics)

	var got Event
	require.NoError(t, json.Unmarshal(client.payloads[0], &got))
	assert.Equal(t, "left", got.Command)
	assert.True(t, got.At.Equal(at))

	client.err = errors.New("not connected")
	assert.Error(t, p.Publish(context.Background(), Event{Kind: KindCue}))

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeKafka{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), Event{SessionID: "s1", Kind: KindRatio, At: at, Ratio: 7.5}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("s1"), w.msgs[0].Key)
	assert.Equal(t, "kind", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte(KindRatio), w.msgs[0].Headers[0].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, " ")
	assert.Error(t, err)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }
func (f failing) Close() error                         { return nil }

func TestMultiJoinsErrors(t *testing.T) {
	w := &fakeKafka{}
	boom := errors.New("boom")
	m := Multi{&KafkaPublisher{writer: w}, failing{boom}, Nop{}}

	err := m.Publish(context.Background(), Event{Kind: KindCue})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, w.msgs, 1, "later failures do not stop earlier deliveries")
	assert.NoError(t, m.Close())
}

type gated struct {
	release chan struct{}
	mu      sync.Mutex
	kinds   []string
	closed  bool
}

func (g *gated) Publish(_ context.Context, e Event) error {
	<-g.release
	g.mu.Lock()
	g.kinds = append(g.kinds, e.Kind)
	g.mu.Unlock()
	return nil
}

func (g *gated) Close() error { g.closed = true; return nil }

func TestAsyncDeliversInOrderAndDrains(t *testing.T) {
	g := &gated{release: make(chan struct{})}
	close(g.release)
	a := NewAsync(g, 8)

	for _, k := range []string{KindCue, KindRatio, KindDecision, KindActuation} {
		require.NoError(t, a.Publish(context.Background(), Event{Kind: k}))
	}
	require.NoError(t, a.Close())
	assert.Equal(t, []string{KindCue, KindRatio, KindDecision, KindActuation}, g.kinds)
	assert.True(t, g.closed)
	assert.NoError(t, a.Close(), "second close is a no-op")
}

func TestAsyncDropsWhenFull(t *testing.T) {
	g := &gated{release: make(chan struct{})}
	a := NewAsync(g, 1)

	// the worker holds one event while blocked, the queue holds one more
	var full int
	for i := 0; i < 5; i++ {
		if errors.Is(a.Publish(context.Background(), Event{Kind: KindRatio}), ErrQueueFull) {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, 3)
	assert.Equal(t, full, a.Dropped())

	close(g.release)
	require.NoError(t, a.Close())
}

func TestAsyncPublishAfterClose(t *testing.T) {
	a := NewAsync(Nop{}, 4)
	require.NoError(t, a.Close())

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, a.Publish(context.Background(), Event{Kind: KindActuation}), ErrClosed)
	})
	assert.Zero(t, a.Dropped())
}
