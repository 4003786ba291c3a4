package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
)

// FallbackICEServers is used when the RTC configuration cannot be fetched.
var FallbackICEServers = []engine.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

type ConfigWire struct {
	ICEServers []engine.ICEServer `json:"iceServers"`
}

// FetchRTCConfig loads the ICE servers published at url.
func FetchRTCConfig(ctx context.Context, url string) (*engine.Configuration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rtc-config request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rtc-config bad status: %s", resp.Status)
	}

	var wire ConfigWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode rtc-config: %w", err)
	}
	return &engine.Configuration{ICEServers: wire.ICEServers}, nil
}
