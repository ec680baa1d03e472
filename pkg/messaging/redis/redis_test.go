package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentflow/consent-api/pkg/messaging"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := NewRedisBroker(Config{URL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestPublishSubscribe(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "notifications:abc")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "notifications:abc", map[string]string{"title": "hello"}))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"title":"hello"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel not closed after cancel")
		}
	}
}

func TestCancelledSubscriptionsReleaseConnections(t *testing.T) {
	b, mr := newTestBroker(t)
	const channel = "notifications:u"

	var streams []<-chan []byte
	var cancels []context.CancelFunc
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		msgs, err := b.Subscribe(ctx, channel)
		require.NoError(t, err)
		streams = append(streams, msgs)
		cancels = append(cancels, cancel)
	}
	assert.Equal(t, 5, mr.PubSubNumSub(channel)[channel])

	for _, cancel := range cancels {
		cancel()
	}
	for _, msgs := range streams {
		select {
		case _, ok := <-msgs:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("subscription channel not closed after cancel")
		}
	}

	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriptionClosesOnConnectionLoss(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "notifications:abc")
	require.NoError(t, err)

	mr.Close()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription channel not closed after connection loss")
	}
}

func TestClosedBrokerRejectsCalls(t *testing.T) {
	b, _ := newTestBroker(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "c", "x"), messaging.ErrClosed)
	_, err := b.Subscribe(context.Background(), "c")
	assert.ErrorIs(t, err, messaging.ErrClosed)
}

func TestInvalidURL(t *testing.T) {
	_, err := NewRedisBroker(Config{URL: "not-a-url"}, nil)
	assert.Error(t, err)
}
