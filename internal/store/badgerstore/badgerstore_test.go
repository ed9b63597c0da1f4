package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/store"
	"github.com/roach88/regsync/internal/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return s
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "channel_id", "abc"))
	first, err := s1.SaveScheduled(ctx, taskForTest(), timeForTest(), false)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get(ctx, "channel_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	second, err := s2.SaveScheduled(ctx, taskForTest(), timeForTest(), false)
	require.NoError(t, err)
	assert.Greater(t, second, first, "ids keep increasing after reopen")

	all, err := s2.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSchedKey_RoundTrip(t *testing.T) {
	at := timeForTest()
	fireAt, id, err := parseSchedKey(schedKey(at, 42))
	require.NoError(t, err)
	assert.True(t, fireAt.Equal(at))
	assert.Equal(t, int64(42), id)

	_, _, err = parseSchedKey("sched/garbage")
	require.Error(t, err)
}
