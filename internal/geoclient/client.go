// Package geoclient talks to the device location gateway, the collaborator
// that relays a phone's live GPS fix to the backend. Fixes are always
// requested fresh (max_age=0); a cached position would weaken the
// proof-of-presence guarantee.
package geoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"campusicon/internal/geo"
)

// Client calls the location gateway over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. timeout bounds the whole position acquisition; the
// gateway itself waits on the device, so this is the user-facing ceiling.
func New(baseURL string, timeout time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// CurrentFix requests the device's live position. The gateway is told not to
// serve cached fixes; any error here means the location is unavailable, which
// callers must distinguish from an out-of-range result.
func (c *Client) CurrentFix(ctx context.Context, deviceID string) (geo.Fix, error) {
	if c.Skip {
		return geo.Fix{
			Point:      geo.Point{Latitude: 6.5244, Longitude: 3.3792},
			CapturedAt: time.Now().UTC(),
		}, nil
	}
	if deviceID == "" {
		return geo.Fix{}, fmt.Errorf("device id required")
	}

	body, _ := json.Marshal(map[string]any{
		"device_id": deviceID,
		"max_age":   0,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/position", bytes.NewReader(body))
	if err != nil {
		return geo.Fix{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return geo.Fix{}, fmt.Errorf("location gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return geo.Fix{}, fmt.Errorf("location gateway error %s: %s", resp.Status, string(respBody))
	}

	var out struct {
		Latitude   float64   `json:"latitude"`
		Longitude  float64   `json:"longitude"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return geo.Fix{}, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if out.CapturedAt.IsZero() {
		out.CapturedAt = time.Now().UTC()
	}
	return geo.Fix{
		Point:      geo.Point{Latitude: out.Latitude, Longitude: out.Longitude},
		CapturedAt: out.CapturedAt,
	}, nil
}

// Health checks if the gateway is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("location gateway unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("location gateway unhealthy: %s", resp.Status)
	}
	return nil
}
