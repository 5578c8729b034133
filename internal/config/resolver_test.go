package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	values map[string]string
	calls  map[string]int
}

func (s *countingSource) Parameter(_ context.Context, name string) (string, error) {
	s.calls[name]++
	value, ok := s.values[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return value, nil
}

func newCountingSource(values map[string]string) *countingSource {
	return &countingSource{values: values, calls: map[string]int{}}
}

func TestResolverPrefersEnvironment(t *testing.T) {
	t.Setenv("RECEIVE_QUEUE_URL", "https://sqs.local/receive")
	t.Setenv("MAIL_TABLE", "mail-env")

	source := newCountingSource(nil)
	resolver := NewResolver(source, time.Minute)

	url, err := resolver.QueueURL(context.Background(), QueueReceive)
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/receive", url)

	table, err := resolver.TableName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mail-env", table)

	assert.Empty(t, source.calls)
}

func TestResolverCachesParameters(t *testing.T) {
	source := newCountingSource(map[string]string{
		"/bogamail/queue_url/client": "https://sqs.local/client",
		"/bogamail/mail_table":       "mail",
	})
	resolver := NewResolver(source, time.Minute)
	ctx := context.Background()

	for range 3 {
		url, err := resolver.QueueURL(ctx, QueueClient)
		require.NoError(t, err)
		assert.Equal(t, "https://sqs.local/client", url)
	}
	table, err := resolver.TableName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mail", table)

	assert.Equal(t, 1, source.calls["/bogamail/queue_url/client"])
	assert.Equal(t, 1, source.calls["/bogamail/mail_table"])
}

func TestResolverErrors(t *testing.T) {
	t.Run("missing parameter is not cached", func(t *testing.T) {
		source := newCountingSource(map[string]string{})
		resolver := NewResolver(source, time.Minute)

		_, err := resolver.QueueURL(context.Background(), QueueSend)
		require.Error(t, err)
		_, err = resolver.QueueURL(context.Background(), QueueSend)
		require.Error(t, err)

		assert.Equal(t, 2, source.calls["/bogamail/queue_url/send"])
	})

	t.Run("no source and no environment", func(t *testing.T) {
		resolver := NewResolver(nil, time.Minute)

		_, err := resolver.QueueURL(context.Background(), QueueSend)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SEND_QUEUE_URL")
	})
}
