package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesBucketsAndIsReopenable(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutRaw(PositionsBucketName, "pos-1", []byte(`{"id":"pos-1"}`)))
	require.NoError(t, s.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.GetRaw(PositionsBucketName, "pos-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":"pos-1"}`, string(v))
}

func TestPutGetDeleteRaw_RoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.GetRaw(RetryQueueBucketName, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutRaw(RetryQueueBucketName, "item-1", []byte("a")))
	v, ok, err := s.GetRaw(RetryQueueBucketName, "item-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(v))

	require.NoError(t, s.DeleteRaw(RetryQueueBucketName, "item-1"))
	_, ok, err = s.GetRaw(RetryQueueBucketName, "item-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutRaw_CreatesBucketOnDemand(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutRaw("custom_bucket", "k", []byte("v")))
	v, ok, err := s.GetRaw("custom_bucket", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestForEachRaw_IteratesAllEntriesAndSkipsMissingBucket(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutRaw(PositionsBucketName, "a", []byte("1")))
	require.NoError(t, s.PutRaw(PositionsBucketName, "b", []byte("2")))

	seen := map[string]string{}
	require.NoError(t, s.ForEachRaw(PositionsBucketName, func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	}))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)

	calls := 0
	require.NoError(t, s.ForEachRaw("never_created", func(key string, value []byte) error {
		calls++
		return nil
	}))
	assert.Equal(t, 0, calls)
}
