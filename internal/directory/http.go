package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roach88/regsync/internal/model"
)

const (
	// DefaultTimeout is the default timeout for directory requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps how much of a response body is read (1MB).
	MaxResponseSize = 1 << 20

	// UserAgent is sent when HTTPConfig.UserAgent is empty.
	UserAgent = "regsync/1.0"

	pathChannels              = "/api/channels/"
	pathChannelTags           = "/api/channels/tags/"
	pathNamedUserAssociate    = "/api/named_users/associate/"
	pathNamedUserDisassociate = "/api/named_users/disassociate/"
	pathNamedUserTags         = "/api/named_users/tags/"
)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL    string
	AppKey     string
	AppSecret  string
	DeviceType string
	UserAgent  string
	Timeout    time.Duration
}

// HTTPClient is the HTTP implementation of Client. Requests are JSON and
// authenticated with the app key and secret as basic auth.
type HTTPClient struct {
	client *http.Client
	base   *url.URL
	cfg    HTTPConfig
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and builds a client. A zero timeout uses
// DefaultTimeout.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse directory base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("directory base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = UserAgent
	}
	return &HTTPClient{
		client: &http.Client{Timeout: cfg.Timeout},
		base:   base,
		cfg:    cfg,
	}, nil
}

// CreateChannel registers a new channel. The channel id comes from the
// body's channel_id and the location from the Location header, falling back
// to a "location" body field.
func (c *HTTPClient) CreateChannel(ctx context.Context, payload model.ChannelPayload) (Response, error) {
	resp, header, err := c.do(ctx, http.MethodPost, c.resolve(pathChannels), channelBody(payload))
	if err != nil {
		return Response{}, err
	}
	if resp.Success() && gjson.ValidBytes(resp.Body) {
		resp.ChannelID = gjson.GetBytes(resp.Body, "channel_id").String()
		resp.Location = header.Get("Location")
		if resp.Location == "" {
			resp.Location = gjson.GetBytes(resp.Body, "location").String()
		}
	}
	return resp, nil
}

// UpdateChannel sends payload to an existing channel location.
func (c *HTTPClient) UpdateChannel(ctx context.Context, location string, payload model.ChannelPayload) (Response, error) {
	resp, _, err := c.do(ctx, http.MethodPut, c.resolve(location), channelBody(payload))
	return resp, err
}

// AssociateNamedUser links channelID to namedUserID.
func (c *HTTPClient) AssociateNamedUser(ctx context.Context, namedUserID, channelID string) (Response, error) {
	body := map[string]any{
		"channel_id":    channelID,
		"device_type":   c.cfg.DeviceType,
		"named_user_id": namedUserID,
	}
	resp, _, err := c.do(ctx, http.MethodPost, c.resolve(pathNamedUserAssociate), body)
	return resp, err
}

// DisassociateNamedUser unlinks channelID from whatever named user it has.
func (c *HTTPClient) DisassociateNamedUser(ctx context.Context, channelID string) (Response, error) {
	body := map[string]any{
		"channel_id":  channelID,
		"device_type": c.cfg.DeviceType,
	}
	resp, _, err := c.do(ctx, http.MethodPost, c.resolve(pathNamedUserDisassociate), body)
	return resp, err
}

// UpdateTagGroups sends the full add and remove maps for owner.
func (c *HTTPClient) UpdateTagGroups(ctx context.Context, owner Owner, add, remove model.TagGroups) (Response, error) {
	path := pathChannelTags
	audience := map[string]string{c.cfg.DeviceType + "_channel": owner.ID}
	if owner.Kind == OwnerNamedUser {
		path = pathNamedUserTags
		audience = map[string]string{"named_user_id": owner.ID}
	}
	body := map[string]any{"audience": audience}
	if !add.IsEmpty() {
		body["add"] = add
	}
	if !remove.IsEmpty() {
		body["remove"] = remove
	}
	resp, _, err := c.do(ctx, http.MethodPost, c.resolve(path), body)
	return resp, err
}

func channelBody(p model.ChannelPayload) map[string]any {
	return map[string]any{"channel": p.Map()}
}

// resolve turns a path or an absolute location into a request URL.
func (c *HTTPClient) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return c.base.String() + ref
	}
	return c.base.ResolveReference(u).String()
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body any) (Response, http.Header, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Response{}, nil, fmt.Errorf("encode %s %s: %w", method, target, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(encoded))
	if err != nil {
		return Response{}, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AppKey != "" {
		req.SetBasicAuth(c.cfg.AppKey, c.cfg.AppSecret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return Response{}, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return Response{Status: resp.StatusCode, Body: data}, resp.Header, nil
}
