// Package directorytest provides a scripted in-process directory.Client for
// tests and scenario runs.
package directorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/model"
)

// Operation names, as recorded in Call.Op and used with Script.
const (
	OpCreateChannel        = "create_channel"
	OpUpdateChannel        = "update_channel"
	OpAssociate            = "associate_named_user"
	OpDisassociate         = "disassociate_named_user"
	OpUpdateChannelTags    = "update_channel_tags"
	OpUpdateNamedUserTags  = "update_named_user_tags"
	DefaultLocationPattern = "https://directory.test/api/channels/%s"
)

// Ops lists every operation name.
var Ops = []string{
	OpCreateChannel, OpUpdateChannel, OpAssociate, OpDisassociate,
	OpUpdateChannelTags, OpUpdateNamedUserTags,
}

// ErrTransport is returned for scripted results with Transport set.
var ErrTransport = errors.New("connection refused")

// Result is one scripted answer.
type Result struct {
	Status    int
	Body      string
	ChannelID string
	Location  string
	// Transport makes the call fail with ErrTransport instead of answering.
	Transport bool
}

// Call records one request the fake received.
type Call struct {
	Op          string
	Payload     model.ChannelPayload
	Location    string
	NamedUserID string
	ChannelID   string
	Owner       directory.Owner
	Add         model.TagGroups
	Remove      model.TagGroups
}

// Fake answers from per-operation queues of scripted results. Once a queue
// is empty, calls succeed: creates return 201 with a generated channel id,
// everything else returns 200.
//
// Thread-safety: Fake is safe for concurrent use via internal mutex.
type Fake struct {
	mu      sync.Mutex
	script  map[string][]Result
	calls   []Call
	created int
}

var _ directory.Client = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{script: make(map[string][]Result)}
}

// Script queues results for op, answered in order.
func (f *Fake) Script(op string, results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[op] = append(f.script[op], results...)
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls for op.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Pending returns how many scripted results are still queued for op.
func (f *Fake) Pending(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.script[op])
}

func (f *Fake) answer(call Call) (directory.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)

	var r Result
	if queue := f.script[call.Op]; len(queue) > 0 {
		r, f.script[call.Op] = queue[0], queue[1:]
	} else if call.Op == OpCreateChannel {
		f.created++
		id := fmt.Sprintf("channel-%d", f.created)
		r = Result{Status: 201, ChannelID: id, Location: fmt.Sprintf(DefaultLocationPattern, id)}
	} else {
		r = Result{Status: 200}
	}

	if r.Transport {
		return directory.Response{}, fmt.Errorf("%s: %w", call.Op, ErrTransport)
	}
	return directory.Response{
		Status:    r.Status,
		Body:      []byte(r.Body),
		ChannelID: r.ChannelID,
		Location:  r.Location,
	}, nil
}

func (f *Fake) CreateChannel(_ context.Context, payload model.ChannelPayload) (directory.Response, error) {
	return f.answer(Call{Op: OpCreateChannel, Payload: payload})
}

func (f *Fake) UpdateChannel(_ context.Context, location string, payload model.ChannelPayload) (directory.Response, error) {
	return f.answer(Call{Op: OpUpdateChannel, Location: location, Payload: payload})
}

func (f *Fake) AssociateNamedUser(_ context.Context, namedUserID, channelID string) (directory.Response, error) {
	return f.answer(Call{Op: OpAssociate, NamedUserID: namedUserID, ChannelID: channelID})
}

func (f *Fake) DisassociateNamedUser(_ context.Context, channelID string) (directory.Response, error) {
	return f.answer(Call{Op: OpDisassociate, ChannelID: channelID})
}

func (f *Fake) UpdateTagGroups(_ context.Context, owner directory.Owner, add, remove model.TagGroups) (directory.Response, error) {
	op := OpUpdateChannelTags
	if owner.Kind == directory.OwnerNamedUser {
		op = OpUpdateNamedUserTags
	}
	return f.answer(Call{Op: op, Owner: owner, Add: add.Clone(), Remove: remove.Clone()})
}
