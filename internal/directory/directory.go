// Package directory talks to the remote directory service that owns channel
// records, named-user associations and tag groups.
//
// Every call returns a Response carrying the HTTP status and body. A non-nil
// error means no response was received (transport failure); the caller
// treats that the same as a 5xx.
package directory

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/roach88/regsync/internal/model"
)

// OwnerKind selects the audience of a tag group update.
type OwnerKind string

const (
	OwnerChannel   OwnerKind = "channel"
	OwnerNamedUser OwnerKind = "named_user"
)

// Owner identifies the record whose tag groups are updated.
type Owner struct {
	Kind OwnerKind
	ID   string
}

// Client is the remote directory API.
type Client interface {
	CreateChannel(ctx context.Context, payload model.ChannelPayload) (Response, error)
	UpdateChannel(ctx context.Context, location string, payload model.ChannelPayload) (Response, error)
	AssociateNamedUser(ctx context.Context, namedUserID, channelID string) (Response, error)
	DisassociateNamedUser(ctx context.Context, channelID string) (Response, error)
	UpdateTagGroups(ctx context.Context, owner Owner, add, remove model.TagGroups) (Response, error)
}

// Response is what the directory answered.
type Response struct {
	Status int
	Body   []byte

	// ChannelID and Location are filled in for channel create responses.
	ChannelID string
	Location  string
}

// Success reports a 2xx status.
func (r Response) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// ServerError reports a 5xx status.
func (r Response) ServerError() bool {
	return r.Status >= 500 && r.Status < 600
}

// Issues extracts the "warnings" array and "error" string that tag group
// responses may carry. Malformed or empty bodies yield nothing.
func (r Response) Issues() (warnings []string, errMsg string) {
	if len(r.Body) == 0 || !gjson.ValidBytes(r.Body) {
		return nil, ""
	}
	for _, w := range gjson.GetBytes(r.Body, "warnings").Array() {
		if s := w.String(); s != "" {
			warnings = append(warnings, s)
		}
	}
	return warnings, gjson.GetBytes(r.Body, "error").String()
}
