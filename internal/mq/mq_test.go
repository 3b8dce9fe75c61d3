package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/expense-tracker/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	closed  bool
	err     error
}

func (s *stubBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.channel, s.data, s.attrs = channel, data, attrs
	return "id-1", nil
}

func (s *stubBackend) Close() error {
	s.closed = true
	return nil
}

func TestMQDelegatesToBackend(t *testing.T) {
	backend := &stubBackend{}
	queue := New(backend)

	id, err := queue.Publish(context.Background(), "expense-events", []byte(`{}`), map[string]string{"type": "expense.created"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, "expense-events", backend.channel)
	assert.Equal(t, "expense.created", backend.attrs["type"])

	backend.err = errors.New("boom")
	_, err = queue.Publish(context.Background(), "expense-events", nil, nil)
	assert.EqualError(t, err, "boom")

	require.NoError(t, queue.Close())
	assert.True(t, backend.closed)
}

func TestOpen(t *testing.T) {
	queue, err := Open(context.Background(), config.EventsConfig{Backend: config.BackendNone})
	require.NoError(t, err)
	assert.Nil(t, queue)

	_, err = Open(context.Background(), config.EventsConfig{Backend: "kafka"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.EventsConfig{Backend: config.BackendRabbitMQ})
	assert.Error(t, err, "empty rabbitmq url")

	_, err = Open(context.Background(), config.EventsConfig{Backend: config.BackendPubSub})
	assert.Error(t, err, "missing project id")
}
