package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV_GetMissing(t *testing.T) {
	s := createTestStore(t)

	v, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestKV_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, "k", "v1"))
	require.NoError(t, s.Put(ctx, "k", "v2"))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestKV_Delete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, "a", "1"))
	require.NoError(t, s.Put(ctx, "b", "2"))
	require.NoError(t, s.Delete(ctx, "a", "b", "missing"))

	for _, k := range []string{"a", "b"} {
		_, ok, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, "key %q still present", k)
	}
}

func TestKV_ApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, "old", "x"))

	err := s.Apply(ctx, Batch{
		Put:    map[string]string{"a": "1", "b": "2"},
		Delete: []string{"old"},
	})
	require.NoError(t, err)

	a, _, _ := s.Get(ctx, "a")
	b, _, _ := s.Get(ctx, "b")
	_, oldOK, _ := s.Get(ctx, "old")
	assert.Equal(t, "1", a)
	assert.Equal(t, "2", b)
	assert.False(t, oldOK)
}

func TestKV_ApplyDeleteWinsOverPut(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Apply(ctx, Batch{
		Put:    map[string]string{"k": "v"},
		Delete: []string{"k"},
	}))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKV_ApplyEmpty(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Apply(context.Background(), Batch{}))
}
