package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
)

// TokenGenerator produces named-user change tokens.
type TokenGenerator interface {
	NewToken() string
}

// UUIDv7Tokens generates time-sortable UUIDv7 change tokens.
//
// Thread-safety: UUIDv7Tokens is stateless and safe for concurrent use.
type UUIDv7Tokens struct{}

// NewToken returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Tokens) NewToken() string {
	return uuid.Must(uuid.NewV7()).String()
}

// State reads and writes identity values.
type State struct {
	kv     store.KV
	tokens TokenGenerator
}

// New returns a State over kv. A nil tokens uses UUIDv7Tokens.
func New(kv store.KV, tokens TokenGenerator) *State {
	if tokens == nil {
		tokens = UUIDv7Tokens{}
	}
	return &State{kv: kv, tokens: tokens}
}

// Channel is the remote directory's record of this installation.
type Channel struct {
	ID       string `json:"channel_id"`
	Location string `json:"channel_location"`
}

// Exists reports whether both id and location are known.
func (c Channel) Exists() bool {
	return c.ID != "" && c.Location != ""
}

// Channel returns the stored channel identity. Missing values are empty.
func (s *State) Channel(ctx context.Context) (Channel, error) {
	id, err := s.get(ctx, keyChannelID)
	if err != nil {
		return Channel{}, err
	}
	loc, err := s.get(ctx, keyChannelLocation)
	if err != nil {
		return Channel{}, err
	}
	return Channel{ID: id, Location: loc}, nil
}

// Snapshot is the last payload the directory accepted.
type Snapshot struct {
	Payload model.ChannelPayload `json:"payload"`
	At      time.Time            `json:"at"`
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.At)
}

// Snapshot returns the last accepted registration, if any.
func (s *State) Snapshot(ctx context.Context) (Snapshot, bool, error) {
	raw, ok, err := s.kv.Get(ctx, keySnapshotPayload)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap.Payload); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot payload: %w", err)
	}
	at, err := s.get(ctx, keySnapshotTime)
	if err != nil {
		return Snapshot{}, false, err
	}
	if at != "" {
		ms, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("decode snapshot time: %w", err)
		}
		snap.At = time.UnixMilli(ms)
	}
	return snap, true, nil
}

// SetSnapshot records a payload the directory accepted.
func (s *State) SetSnapshot(ctx context.Context, snap Snapshot) error {
	b := store.Batch{Put: map[string]string{}}
	if err := putSnapshot(b.Put, snap); err != nil {
		return err
	}
	if err := s.kv.Apply(ctx, b); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// RecordChannel stores a newly created channel together with the payload
// that created it.
func (s *State) RecordChannel(ctx context.Context, ch Channel, snap Snapshot) error {
	b := store.Batch{Put: map[string]string{
		keyChannelID:       ch.ID,
		keyChannelLocation: ch.Location,
	}}
	if err := putSnapshot(b.Put, snap); err != nil {
		return err
	}
	if err := s.kv.Apply(ctx, b); err != nil {
		return fmt.Errorf("write channel: %w", err)
	}
	return nil
}

// ClearChannel forgets the channel identity and the snapshot.
func (s *State) ClearChannel(ctx context.Context) error {
	err := s.kv.Delete(ctx, keyChannelID, keyChannelLocation, keySnapshotPayload, keySnapshotTime)
	if err != nil {
		return fmt.Errorf("clear channel: %w", err)
	}
	return nil
}

func putSnapshot(put map[string]string, snap Snapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("encode snapshot payload: %w", err)
	}
	put[keySnapshotPayload] = string(payload)
	put[keySnapshotTime] = strconv.FormatInt(snap.At.UnixMilli(), 10)
	return nil
}

// NamedUser is the desired named-user association and its sync markers.
type NamedUser struct {
	// ID is nil when the channel should be disassociated.
	ID               *string `json:"id"`
	ChangeToken      string  `json:"change_token,omitempty"`
	LastUpdatedToken string  `json:"last_updated_token,omitempty"`
}

// NeverRequested reports whether no association was ever asked for.
func (n NamedUser) NeverRequested() bool {
	return n.ChangeToken == "" && n.LastUpdatedToken == ""
}

// InSync reports whether the last requested change reached the directory.
func (n NamedUser) InSync() bool {
	return n.ChangeToken == n.LastUpdatedToken
}

// NamedUser returns the stored named-user state.
func (s *State) NamedUser(ctx context.Context) (NamedUser, error) {
	var n NamedUser
	raw, ok, err := s.kv.Get(ctx, keyNamedUserID)
	if err != nil {
		return NamedUser{}, fmt.Errorf("read named user: %w", err)
	}
	if ok {
		n.ID = &raw
	}
	if n.ChangeToken, err = s.get(ctx, keyNamedUserChangeToken); err != nil {
		return NamedUser{}, err
	}
	if n.LastUpdatedToken, err = s.get(ctx, keyNamedUserLastToken); err != nil {
		return NamedUser{}, err
	}
	return n, nil
}

// SetNamedUserID records the desired named user. Surrounding whitespace is
// trimmed and an empty id means disassociate. A new change token is written
// only when the id differs from the stored one or force is set; the return
// value reports whether that happened.
func (s *State) SetNamedUserID(ctx context.Context, id string, force bool) (bool, error) {
	id = strings.TrimSpace(id)
	current, err := s.NamedUser(ctx)
	if err != nil {
		return false, err
	}

	same := (current.ID == nil && id == "") || (current.ID != nil && *current.ID == id)
	if same && !force {
		return false, nil
	}

	b := store.Batch{Put: map[string]string{
		keyNamedUserChangeToken: s.tokens.NewToken(),
	}}
	if id == "" {
		b.Delete = []string{keyNamedUserID}
	} else {
		b.Put[keyNamedUserID] = id
	}
	if err := s.kv.Apply(ctx, b); err != nil {
		return false, fmt.Errorf("write named user: %w", err)
	}
	return true, nil
}

// ForceDisassociateIfNil writes a fresh change token when no named user is
// set, so the next named-user update issues a disassociate. Used after a
// channel turns out to already exist remotely (reinstall).
func (s *State) ForceDisassociateIfNil(ctx context.Context) (bool, error) {
	n, err := s.NamedUser(ctx)
	if err != nil {
		return false, err
	}
	if n.ID != nil {
		return false, nil
	}
	if err := s.kv.Put(ctx, keyNamedUserChangeToken, s.tokens.NewToken()); err != nil {
		return false, fmt.Errorf("write named user: %w", err)
	}
	return true, nil
}

// SetLastUpdatedToken marks token as pushed to the directory.
func (s *State) SetLastUpdatedToken(ctx context.Context, token string) error {
	if err := s.kv.Put(ctx, keyNamedUserLastToken, token); err != nil {
		return fmt.Errorf("write named user token: %w", err)
	}
	return nil
}

// get returns a string value, empty when absent.
func (s *State) get(ctx context.Context, key string) (string, error) {
	v, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

// getJSON decodes a JSON value into dst and reports whether it existed.
func (s *State) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *State) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, string(b)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
