package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) ([]byte, bool) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil, false
	}
}

func TestLocalBrokerFanOut(t *testing.T) {
	b := NewLocalBroker(4)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := b.Subscribe(ctx, "notifications:a")
	require.NoError(t, err)
	second, err := b.Subscribe(ctx, "notifications:a")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "notifications:b")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "notifications:a", map[string]string{"kind": "notification"}))

	for _, ch := range []<-chan []byte{first, second} {
		msg, ok := receive(t, ch)
		require.True(t, ok)
		assert.JSONEq(t, `{"kind":"notification"}`, string(msg))
	}
	select {
	case <-other:
		t.Fatal("unexpected message on other channel")
	default:
	}
}

func TestLocalBrokerSubscriptionEnds(t *testing.T) {
	b := NewLocalBroker(1)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "c")
	require.NoError(t, err)
	cancel()
	_, ok := receive(t, ch)
	assert.False(t, ok)

	ch, err = b.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	b.Drop("c")
	_, ok = receive(t, ch)
	assert.False(t, ok)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "c", 1), ErrClosed)
	_, err = b.Subscribe(context.Background(), "c")
	assert.ErrorIs(t, err, ErrClosed)
}
