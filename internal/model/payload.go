package model

import (
	"bytes"
	"fmt"
	"sort"
)

// ChannelPayload is the registration body sent on channel create and update.
type ChannelPayload struct {
	DeviceType        string   `json:"device_type"`
	PushAddress       string   `json:"push_address,omitempty"`
	OptIn             bool     `json:"opt_in"`
	BackgroundEnabled bool     `json:"background"`
	Alias             string   `json:"alias,omitempty"`
	SetTags           bool     `json:"set_tags"`
	Tags              []string `json:"tags,omitempty"`
	Timezone          string   `json:"timezone,omitempty"`
	Locale            string   `json:"locale_language,omitempty"`
	Country           string   `json:"locale_country,omitempty"`
}

// Map returns the payload as a generic object. Tags are sorted and the tag
// list is only present when SetTags is true, matching what the directory
// accepts.
func (p ChannelPayload) Map() map[string]any {
	m := map[string]any{
		"device_type": p.DeviceType,
		"opt_in":      p.OptIn,
		"background":  p.BackgroundEnabled,
		"set_tags":    p.SetTags,
	}
	if p.PushAddress != "" {
		m["push_address"] = p.PushAddress
	}
	if p.Alias != "" {
		m["alias"] = p.Alias
	}
	if p.SetTags {
		tags := make([]string, len(p.Tags))
		copy(tags, p.Tags)
		sort.Strings(tags)
		m["tags"] = tags
	}
	if p.Timezone != "" {
		m["timezone"] = p.Timezone
	}
	if p.Locale != "" {
		m["locale_language"] = p.Locale
	}
	if p.Country != "" {
		m["locale_country"] = p.Country
	}
	return m
}

// Canonical returns the canonical JSON encoding of the payload.
func (p ChannelPayload) Canonical() ([]byte, error) {
	b, err := MarshalCanonical(p.Map())
	if err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	return b, nil
}

// Equal reports whether two payloads have the same canonical form.
func (p ChannelPayload) Equal(other ChannelPayload) bool {
	a, err := p.Canonical()
	if err != nil {
		return false
	}
	b, err := other.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Digest returns a stable content hash of the payload, used in logs and
// status output.
func (p ChannelPayload) Digest() (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainPayload, b), nil
}
