package identity

import (
	"context"
)

// PlatformRegistration is the push token obtained from the platform and the
// device facts it was obtained under. A change in any of those facts makes
// the token stale.
type PlatformRegistration struct {
	Token      string   `json:"token"`
	AppVersion string   `json:"app_version"`
	DeviceID   string   `json:"device_id"`
	SenderIDs  []string `json:"sender_ids,omitempty"`
	Transport  string   `json:"transport,omitempty"`
}

// PlatformRegistration returns the stored registration, if any.
func (s *State) PlatformRegistration(ctx context.Context) (PlatformRegistration, bool, error) {
	var reg PlatformRegistration
	ok, err := s.getJSON(ctx, keyPlatform, &reg)
	if err != nil {
		return PlatformRegistration{}, false, err
	}
	return reg, ok, nil
}

// SetPlatformRegistration stores reg.
func (s *State) SetPlatformRegistration(ctx context.Context, reg PlatformRegistration) error {
	return s.putJSON(ctx, keyPlatform, reg)
}
