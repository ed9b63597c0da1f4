package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/model"
)

func TestPendingTags_EmptyByDefault(t *testing.T) {
	s := newTestState(t)

	d, err := s.PendingTags(context.Background(), ChannelTags)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
	assert.NotNil(t, d.Add)
	assert.NotNil(t, d.Remove)
}

func TestPendingTags_MergePersists(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	_, err := s.MergePendingTags(ctx, ChannelTags, model.TagGroups{"vip": {"gold"}}, nil)
	require.NoError(t, err)
	_, err = s.MergePendingTags(ctx, ChannelTags, model.TagGroups{"vip": {"gold"}}, nil)
	require.NoError(t, err)

	d, err := s.PendingTags(ctx, ChannelTags)
	require.NoError(t, err)
	assert.Equal(t, model.TagGroups{"vip": {"gold"}}, d.Add)
	assert.Empty(t, d.Remove)

	other, err := s.PendingTags(ctx, NamedUserTags)
	require.NoError(t, err)
	assert.True(t, other.IsEmpty(), "facets are independent")
}

func TestPendingTags_SetEmptyClears(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	_, err := s.MergePendingTags(ctx, NamedUserTags, nil, model.TagGroups{"g": {"t"}})
	require.NoError(t, err)
	require.NoError(t, s.SetPendingTags(ctx, NamedUserTags, model.NewPendingDelta()))

	d, err := s.PendingTags(ctx, NamedUserTags)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestParseTagFacet(t *testing.T) {
	f, err := ParseTagFacet("named-user")
	require.NoError(t, err)
	assert.Equal(t, NamedUserTags, f)

	_, err = ParseTagFacet("device")
	require.Error(t, err)
}
