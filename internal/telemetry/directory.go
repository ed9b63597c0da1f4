package telemetry

import (
	"context"

	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/model"
)

// InstrumentDirectory wraps c so every call is counted in m.
func InstrumentDirectory(c directory.Client, m *Metrics) directory.Client {
	if m == nil {
		return c
	}
	return &instrumentedClient{next: c, m: m}
}

type instrumentedClient struct {
	next directory.Client
	m    *Metrics
}

func (c *instrumentedClient) record(op string, resp directory.Response, err error) (directory.Response, error) {
	c.m.DirectoryRequest(op, resp.Status, err)
	return resp, err
}

func (c *instrumentedClient) CreateChannel(ctx context.Context, payload model.ChannelPayload) (directory.Response, error) {
	resp, err := c.next.CreateChannel(ctx, payload)
	return c.record("create_channel", resp, err)
}

func (c *instrumentedClient) UpdateChannel(ctx context.Context, location string, payload model.ChannelPayload) (directory.Response, error) {
	resp, err := c.next.UpdateChannel(ctx, location, payload)
	return c.record("update_channel", resp, err)
}

func (c *instrumentedClient) AssociateNamedUser(ctx context.Context, namedUserID, channelID string) (directory.Response, error) {
	resp, err := c.next.AssociateNamedUser(ctx, namedUserID, channelID)
	return c.record("associate_named_user", resp, err)
}

func (c *instrumentedClient) DisassociateNamedUser(ctx context.Context, channelID string) (directory.Response, error) {
	resp, err := c.next.DisassociateNamedUser(ctx, channelID)
	return c.record("disassociate_named_user", resp, err)
}

func (c *instrumentedClient) UpdateTagGroups(ctx context.Context, owner directory.Owner, add, remove model.TagGroups) (directory.Response, error) {
	resp, err := c.next.UpdateTagGroups(ctx, owner, add, remove)
	op := "update_channel_tags"
	if owner.Kind == directory.OwnerNamedUser {
		op = "update_named_user_tags"
	}
	return c.record(op, resp, err)
}
