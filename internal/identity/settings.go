package identity

import (
	"context"

	"github.com/roach88/regsync/internal/model"
)

// Settings are the device-side preferences that go into the channel
// payload.
type Settings struct {
	OptIn             bool     `json:"opt_in"`
	BackgroundEnabled bool     `json:"background"`
	Alias             string   `json:"alias,omitempty"`
	SetTags           bool     `json:"set_tags"`
	Tags              []string `json:"tags,omitempty"`
	Timezone          string   `json:"timezone,omitempty"`
	Locale            string   `json:"locale,omitempty"`
	Country           string   `json:"country,omitempty"`
}

// Settings returns the stored device settings, if any.
func (s *State) Settings(ctx context.Context) (Settings, bool, error) {
	var st Settings
	ok, err := s.getJSON(ctx, keySettings, &st)
	if err != nil {
		return Settings{}, false, err
	}
	return st, ok, nil
}

// SetSettings stores st.
func (s *State) SetSettings(ctx context.Context, st Settings) error {
	return s.putJSON(ctx, keySettings, st)
}

// BuildPayload computes the channel payload for the given device type,
// settings and platform token. A device without a token cannot receive
// pushes, so it is never reported as opted in.
func BuildPayload(deviceType string, st Settings, token string) model.ChannelPayload {
	p := model.ChannelPayload{
		DeviceType:        deviceType,
		PushAddress:       token,
		OptIn:             st.OptIn && token != "",
		BackgroundEnabled: st.BackgroundEnabled && token != "",
		Alias:             st.Alias,
		SetTags:           st.SetTags,
		Timezone:          st.Timezone,
		Locale:            st.Locale,
		Country:           st.Country,
	}
	if st.SetTags {
		p.Tags = append([]string(nil), st.Tags...)
	}
	return p
}
