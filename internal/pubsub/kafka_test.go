package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaMirror_PublishesToBothSides(t *testing.T) {
	inner := NewMemoryBus(4)
	w := &fakeWriter{}
	bus := NewKafkaMirror(inner, w)
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, Topic(ChatUserLeaved, "c1"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Topic(ChatUserLeaved, "c1"), []byte("payload")))

	assert.Equal(t, "payload", string(receive(t, ch)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "CHAT_USER_LEAVED_c1", string(w.msgs[0].Key))
	assert.Equal(t, "payload", string(w.msgs[0].Value))
	assert.Equal(t, "CHAT_USER_LEAVED", string(w.msgs[0].Headers[0].Value))

	require.NoError(t, bus.Close())
	assert.True(t, w.closed)
}

func TestKafkaMirror_WriteFailureIsNotFatal(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	bus := NewKafkaMirror(NewMemoryBus(4), w)
	defer bus.Close()

	assert.NoError(t, bus.Publish(context.Background(), "t", []byte("x")))
}

func TestKafkaMirror_InnerFailureSkipsKafka(t *testing.T) {
	inner := NewMemoryBus(4)
	require.NoError(t, inner.Close())
	w := &fakeWriter{}
	bus := NewKafkaMirror(inner, w)

	assert.ErrorIs(t, bus.Publish(context.Background(), "t", []byte("x")), ErrClosed)
	assert.Empty(t, w.msgs)
}
