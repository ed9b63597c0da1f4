package model

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TagGroups maps a tag group name to the tags in that group.
//
// Tags within a group are kept sorted and unique. A group with no tags is
// removed from the map, so an empty TagGroups means "no tags anywhere".
type TagGroups map[string][]string

// Add unions tags into group.
func (g TagGroups) Add(group string, tags ...string) {
	if len(tags) == 0 {
		return
	}
	set := toSet(g[group])
	for _, t := range tags {
		set[t] = struct{}{}
	}
	g[group] = sortedKeys(set)
}

// Remove subtracts tags from group, dropping the group once it is empty.
func (g TagGroups) Remove(group string, tags ...string) {
	existing, ok := g[group]
	if !ok {
		return
	}
	set := toSet(existing)
	for _, t := range tags {
		delete(set, t)
	}
	if len(set) == 0 {
		delete(g, group)
		return
	}
	g[group] = sortedKeys(set)
}

// Contains reports whether tag is present in group.
func (g TagGroups) Contains(group, tag string) bool {
	for _, t := range g[group] {
		if t == tag {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no group carries a tag.
func (g TagGroups) IsEmpty() bool {
	for _, tags := range g {
		if len(tags) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. A nil receiver yields an empty, non-nil map.
func (g TagGroups) Clone() TagGroups {
	out := make(TagGroups, len(g))
	for group, tags := range g {
		if len(tags) == 0 {
			continue
		}
		cp := make([]string, len(tags))
		copy(cp, tags)
		out[group] = cp
	}
	return out
}

// Normalize returns a copy with group names and tags trimmed and NFC
// normalized. Empty names, empty tags and groups left without tags are
// dropped.
func (g TagGroups) Normalize() TagGroups {
	out := make(TagGroups, len(g))
	for group, tags := range g {
		name := normalizeTag(group)
		if name == "" {
			continue
		}
		clean := make([]string, 0, len(tags))
		for _, t := range tags {
			if t = normalizeTag(t); t != "" {
				clean = append(clean, t)
			}
		}
		out.Add(name, clean...)
	}
	return out
}

// PendingDelta is the outstanding tag group mutation for one facet.
type PendingDelta struct {
	Add    TagGroups `json:"add"`
	Remove TagGroups `json:"remove"`
}

// NewPendingDelta returns an empty delta with both sides allocated.
func NewPendingDelta() PendingDelta {
	return PendingDelta{Add: TagGroups{}, Remove: TagGroups{}}
}

// Apply merges an incoming add/remove request into the delta.
//
// Added tags join the add side and leave the remove side of their group;
// removed tags do the reverse. Removals are applied after additions, so a
// tag present on both sides of the same request ends up on the remove side.
func (d *PendingDelta) Apply(add, remove TagGroups) {
	d.ensure()
	for group, tags := range add.Normalize() {
		d.Add.Add(group, tags...)
		d.Remove.Remove(group, tags...)
	}
	for group, tags := range remove.Normalize() {
		d.Remove.Add(group, tags...)
		d.Add.Remove(group, tags...)
	}
}

// IsEmpty reports whether there is nothing to send.
func (d PendingDelta) IsEmpty() bool {
	return d.Add.IsEmpty() && d.Remove.IsEmpty()
}

// Clone returns a deep copy of the delta.
func (d PendingDelta) Clone() PendingDelta {
	return PendingDelta{Add: d.Add.Clone(), Remove: d.Remove.Clone()}
}

func (d *PendingDelta) ensure() {
	if d.Add == nil {
		d.Add = TagGroups{}
	}
	if d.Remove == nil {
		d.Remove = TagGroups{}
	}
}

func normalizeTag(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func toSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
