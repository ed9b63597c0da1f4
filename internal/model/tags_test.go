package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingDelta_ApplyAdd(t *testing.T) {
	d := NewPendingDelta()
	d.Apply(TagGroups{"vip": {"gold"}}, nil)

	assert.Equal(t, TagGroups{"vip": {"gold"}}, d.Add)
	assert.Empty(t, d.Remove)
}

func TestPendingDelta_ApplyIsIdempotent(t *testing.T) {
	once := NewPendingDelta()
	once.Apply(TagGroups{"g": {"t"}}, nil)

	twice := NewPendingDelta()
	twice.Apply(TagGroups{"g": {"t"}}, nil)
	twice.Apply(TagGroups{"g": {"t"}}, nil)

	assert.Equal(t, once, twice)
}

func TestPendingDelta_AddThenRemove(t *testing.T) {
	d := NewPendingDelta()
	d.Apply(TagGroups{"g": {"t"}}, nil)
	d.Apply(nil, TagGroups{"g": {"t"}})

	assert.False(t, d.Add.Contains("g", "t"), "tag must leave the add side")
	assert.True(t, d.Remove.Contains("g", "t"))
}

func TestPendingDelta_RemoveThenAdd(t *testing.T) {
	d := NewPendingDelta()
	d.Apply(nil, TagGroups{"g": {"t"}})
	d.Apply(TagGroups{"g": {"t"}}, nil)

	assert.True(t, d.Add.Contains("g", "t"))
	assert.False(t, d.Remove.Contains("g", "t"))
}

func TestPendingDelta_SameRequestRemoveWins(t *testing.T) {
	d := NewPendingDelta()
	d.Apply(TagGroups{"g": {"t"}}, TagGroups{"g": {"t"}})

	assert.False(t, d.Add.Contains("g", "t"))
	assert.True(t, d.Remove.Contains("g", "t"))
}

func TestPendingDelta_NeverOnBothSides(t *testing.T) {
	d := NewPendingDelta()
	requests := []struct {
		add, remove TagGroups
	}{
		{TagGroups{"a": {"1", "2"}}, nil},
		{nil, TagGroups{"a": {"2", "3"}}},
		{TagGroups{"a": {"3"}, "b": {"x"}}, TagGroups{"b": {"y"}}},
		{nil, TagGroups{"a": {"1"}}},
	}
	for _, r := range requests {
		d.Apply(r.add, r.remove)
		for group, tags := range d.Add {
			for _, tag := range tags {
				require.False(t, d.Remove.Contains(group, tag), "(%s,%s) on both sides", group, tag)
			}
		}
	}

	assert.Equal(t, TagGroups{"a": {"3"}, "b": {"x"}}, d.Add)
	assert.Equal(t, TagGroups{"a": {"1", "2"}, "b": {"y"}}, d.Remove)
}

func TestPendingDelta_KeepsOtherGroups(t *testing.T) {
	d := NewPendingDelta()
	d.Apply(TagGroups{"a": {"1"}, "b": {"2"}}, nil)
	d.Apply(nil, TagGroups{"a": {"1"}})

	assert.Equal(t, TagGroups{"b": {"2"}}, d.Add)
	assert.Equal(t, TagGroups{"a": {"1"}}, d.Remove)
}

func TestPendingDelta_IsEmpty(t *testing.T) {
	var d PendingDelta
	assert.True(t, d.IsEmpty())

	d.Apply(TagGroups{"g": {}}, nil)
	assert.True(t, d.IsEmpty(), "groups without tags carry nothing")

	d.Apply(TagGroups{"g": {"t"}}, nil)
	assert.False(t, d.IsEmpty())
}

func TestTagGroups_Normalize(t *testing.T) {
	in := TagGroups{
		" loyalty ":  {" gold", "gold", "", "silver "},
		"":           {"orphan"},
		"empty":      {"  "},
		"cafe\u0301": {"x"},
	}

	out := in.Normalize()

	assert.Equal(t, TagGroups{
		"loyalty":   {"gold", "silver"},
		"caf\u00e9": {"x"},
	}, out)
}

func TestTagGroups_RemoveDropsEmptyGroup(t *testing.T) {
	g := TagGroups{"g": {"a", "b"}}
	g.Remove("g", "a")
	assert.Equal(t, TagGroups{"g": {"b"}}, g)

	g.Remove("g", "b")
	assert.Empty(t, g)

	g.Remove("missing", "x")
	assert.Empty(t, g)
}

func TestTagGroups_CloneIsDeep(t *testing.T) {
	g := TagGroups{"g": {"a"}}
	c := g.Clone()
	c.Add("g", "b")

	assert.Equal(t, TagGroups{"g": {"a"}}, g)
	assert.Equal(t, TagGroups{"g": {"a", "b"}}, c)

	var nilGroups TagGroups
	assert.NotNil(t, nilGroups.Clone())
}
