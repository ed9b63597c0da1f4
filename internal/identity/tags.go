package identity

import (
	"context"
	"fmt"

	"github.com/roach88/regsync/internal/model"
)

// TagFacet selects which owner a pending tag delta belongs to.
type TagFacet string

const (
	ChannelTags   TagFacet = "channel"
	NamedUserTags TagFacet = "named_user"
)

// ParseTagFacet accepts "channel", "named_user" or "named-user".
func ParseTagFacet(s string) (TagFacet, error) {
	switch s {
	case "channel":
		return ChannelTags, nil
	case "named_user", "named-user":
		return NamedUserTags, nil
	}
	return "", fmt.Errorf("unknown tag facet %q", s)
}

func (f TagFacet) key() string {
	if f == NamedUserTags {
		return keyPendingNamedUserTags
	}
	return keyPendingChannelTags
}

// PendingTags returns the outstanding delta for f. A facet with nothing
// pending yields an empty, allocated delta.
func (s *State) PendingTags(ctx context.Context, f TagFacet) (model.PendingDelta, error) {
	d := model.NewPendingDelta()
	if _, err := s.getJSON(ctx, f.key(), &d); err != nil {
		return model.PendingDelta{}, err
	}
	if d.Add == nil {
		d.Add = model.TagGroups{}
	}
	if d.Remove == nil {
		d.Remove = model.TagGroups{}
	}
	return d, nil
}

// SetPendingTags persists d for f. An empty delta removes the key.
func (s *State) SetPendingTags(ctx context.Context, f TagFacet, d model.PendingDelta) error {
	if d.IsEmpty() {
		return s.ClearPendingTags(ctx, f)
	}
	return s.putJSON(ctx, f.key(), d)
}

// ClearPendingTags drops everything pending for f.
func (s *State) ClearPendingTags(ctx context.Context, f TagFacet) error {
	if err := s.kv.Delete(ctx, f.key()); err != nil {
		return fmt.Errorf("clear pending %s tags: %w", f, err)
	}
	return nil
}

// MergePendingTags applies an add/remove request to the stored delta for f,
// persists it and returns the result.
func (s *State) MergePendingTags(ctx context.Context, f TagFacet, add, remove model.TagGroups) (model.PendingDelta, error) {
	d, err := s.PendingTags(ctx, f)
	if err != nil {
		return model.PendingDelta{}, err
	}
	d.Apply(add, remove)
	if err := s.SetPendingTags(ctx, f, d); err != nil {
		return model.PendingDelta{}, err
	}
	return d, nil
}
