// Package storetest holds a behavioural test suite shared by every
// store.Backend implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
)

// Run exercises a backend. open must return a fresh, empty backend; Run
// closes it.
func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Helper()

	t.Run("KV", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		defer b.Close()

		_, ok, err := b.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, b.Put(ctx, "k", "v1"))
		require.NoError(t, b.Put(ctx, "k", "v2"))
		v, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v2", v)

		require.NoError(t, b.Apply(ctx, store.Batch{
			Put:    map[string]string{"a": "1", "b": "2"},
			Delete: []string{"k"},
		}))
		_, ok, err = b.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		v, _, _ = b.Get(ctx, "b")
		assert.Equal(t, "2", v)

		require.NoError(t, b.Delete(ctx, "a", "b", "never-set"))
		_, ok, _ = b.Get(ctx, "a")
		assert.False(t, ok)
	})

	t.Run("Scheduled", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		defer b.Close()
		base := time.UnixMilli(1_700_000_000_000)

		later, err := b.SaveScheduled(ctx, model.NewRetryTask(model.ActionRetryUpdateNamedUser, 10*time.Second), base.Add(10*time.Second), true)
		require.NoError(t, err)
		_, err = b.SaveScheduled(ctx, model.NewTask(model.ActionUpdateRegistration), base, false)
		require.NoError(t, err)
		_, err = b.SaveScheduled(ctx, model.NewTagTask(model.ActionUpdateChannelTagGroups, model.TagGroups{"g": {"t"}}, nil), base, false)
		require.NoError(t, err)

		due, err := b.DueScheduled(ctx, base)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, model.ActionUpdateRegistration, due[0].Task.Action)
		assert.Equal(t, model.ActionUpdateChannelTagGroups, due[1].Task.Action)
		assert.Equal(t, model.TagGroups{"g": {"t"}}, due[1].Task.Add)

		all, err := b.ListScheduled(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, later, all[2].ID)
		require.NotNil(t, all[2].Task.BackOff)
		assert.Equal(t, 10*time.Second, *all[2].Task.BackOff)

		require.NoError(t, b.DeleteScheduled(ctx, later))
		require.ErrorIs(t, b.DeleteScheduled(ctx, later), store.ErrNotFound)
	})

	t.Run("ReplacePerAction", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		defer b.Close()
		base := time.UnixMilli(1_700_000_000_000)

		_, err := b.SaveScheduled(ctx, model.NewRetryTask(model.ActionRetryChannelRegistration, 10*time.Second), base, true)
		require.NoError(t, err)
		_, err = b.SaveScheduled(ctx, model.NewTask(model.ActionUpdateNamedUser), base, false)
		require.NoError(t, err)
		_, err = b.SaveScheduled(ctx, model.NewRetryTask(model.ActionRetryChannelRegistration, 20*time.Second), base.Add(20*time.Second), true)
		require.NoError(t, err)

		all, err := b.ListScheduled(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, model.ActionUpdateNamedUser, all[0].Task.Action)
		assert.False(t, all[0].Delayed)
		assert.Equal(t, 20*time.Second, *all[1].Task.BackOff)
		assert.True(t, all[1].Delayed)
	})

	t.Run("ReplaceKeepsSubmissions", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		defer b.Close()
		base := time.UnixMilli(1_700_000_000_000)
		add := model.TagGroups{"vip": {"gold"}}

		submitted, err := b.SaveScheduled(ctx, model.NewTagTask(model.ActionRetryUpdateChannelTagGroups, add, nil), base, false)
		require.NoError(t, err)
		_, err = b.SaveScheduled(ctx, model.NewRetryTask(model.ActionRetryUpdateChannelTagGroups, 10*time.Second), base.Add(10*time.Second), true)
		require.NoError(t, err)
		retry, err := b.SaveScheduled(ctx, model.NewRetryTask(model.ActionRetryUpdateChannelTagGroups, 20*time.Second), base.Add(20*time.Second), true)
		require.NoError(t, err)

		all, err := b.ListScheduled(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2, "only the earlier delayed retry is replaced")
		assert.Equal(t, submitted, all[0].ID)
		assert.False(t, all[0].Delayed)
		assert.Equal(t, add, all[0].Task.Add)
		assert.Equal(t, retry, all[1].ID)
		assert.True(t, all[1].Delayed)
	})
}
