// Package platform models the push-token capability of the host platform.
//
// The token call itself is external. Registrar is the seam: it either
// yields a token, fails transiently (any error) or reports that the
// capability is permanently unavailable (ErrUnavailable).
package platform

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/roach88/regsync/internal/identity"
)

// ErrUnavailable marks a permanent failure: the platform cannot issue a
// token on this device or is misconfigured. Retrying will not help.
var ErrUnavailable = errors.New("platform registration unavailable")

// Registrar obtains a push token from the platform.
type Registrar interface {
	Register(ctx context.Context, senderIDs []string) (string, error)
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, senderIDs []string) (string, error)

// Register calls f.
func (f RegistrarFunc) Register(ctx context.Context, senderIDs []string) (string, error) {
	return f(ctx, senderIDs)
}

// Static returns a fixed token, or ErrUnavailable when the token is empty.
// It stands in for a real platform when the token is provisioned out of
// band (configuration or environment).
type Static struct {
	mu    sync.Mutex
	token string
}

// NewStatic returns a Static registrar for token.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// SetToken replaces the token handed out on the next Register.
func (s *Static) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Register returns the configured token.
func (s *Static) Register(ctx context.Context, _ []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrUnavailable
	}
	return s.token, nil
}

// Fingerprint is the set of device facts a token is bound to.
type Fingerprint struct {
	AppVersion string
	DeviceID   string
	SenderIDs  []string
	Transport  string
}

// Record builds the value to persist after a successful registration.
func (f Fingerprint) Record(token string) identity.PlatformRegistration {
	return identity.PlatformRegistration{
		Token:      token,
		AppVersion: f.AppVersion,
		DeviceID:   f.DeviceID,
		SenderIDs:  slices.Clone(f.SenderIDs),
		Transport:  f.Transport,
	}
}

// NeedsRegistration reports whether the stored token is stale for the
// current device facts: nothing stored, an empty token, a changed app
// version, device id or transport, or a changed sender id set. Sender ids
// are only compared when some were recorded before.
func NeedsRegistration(stored identity.PlatformRegistration, found bool, current Fingerprint) bool {
	if !found || stored.Token == "" {
		return true
	}
	if stored.AppVersion != current.AppVersion || stored.DeviceID != current.DeviceID {
		return true
	}
	if stored.Transport != "" && stored.Transport != current.Transport {
		return true
	}
	if len(stored.SenderIDs) > 0 && !sameSet(stored.SenderIDs, current.SenderIDs) {
		return true
	}
	return false
}

// Policy decides whether platform registration may run at all.
type Policy struct {
	Enabled           bool
	Transport         string
	AllowedTransports []string
}

// Allowed reports whether registration is permitted. An empty allow list
// permits any transport.
func (p Policy) Allowed() bool {
	if !p.Enabled {
		return false
	}
	if len(p.AllowedTransports) == 0 {
		return true
	}
	return slices.Contains(p.AllowedTransports, p.Transport)
}

func sameSet(a, b []string) bool {
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(slices.Compact(as), slices.Compact(bs))
}
