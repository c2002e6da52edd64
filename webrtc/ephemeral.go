// Package webrtc mints short-lived session secrets for browser consoles and
// opens headless WebRTC sessions against the realtime service.
package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/enesunal-m/rtconsole"
)

// SessionSecret is a client secret that lets a browser open one realtime
// session without the API key.
type SessionSecret struct {
	SessionID string    `json:"session_id"`
	Value     string    `json:"ephemeral"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionsURL returns the REST endpoint that mints session secrets.
func SessionsURL(cfg rtconsole.Config) string {
	base := strings.TrimRight(cfg.ResourceEndpoint, "/")
	if cfg.APIVersion != "" {
		return fmt.Sprintf("%s/openai/realtimeapi/sessions?api-version=%s", base, cfg.APIVersion)
	}
	return base + "/v1/realtime/sessions"
}

// RegionWebRTCURL returns the Azure WebRTC endpoint for a region.
func RegionWebRTCURL(region string) string {
	return fmt.Sprintf("https://%s.realtimeapi-preview.ai.azure.com/v1/realtimertc", region)
}

// WebRTCURL returns the SDP exchange endpoint: the regional endpoint on Azure
// and /v1/realtime on OpenAI.
func WebRTCURL(cfg rtconsole.Config, region string) string {
	if cfg.APIVersion != "" {
		return RegionWebRTCURL(region)
	}
	return strings.TrimRight(cfg.ResourceEndpoint, "/") + "/v1/realtime"
}

type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// MintSessionSecret asks the service for a session secret for cfg's
// deployment. voice is optional. A nil client uses a 15s timeout.
func MintSessionSecret(ctx context.Context, client *http.Client, cfg rtconsole.Config, voice string) (SessionSecret, error) {
	if err := rtconsole.ValidateConfig(cfg); err != nil {
		return SessionSecret{}, err
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	url := SessionsURL(cfg)
	payload := map[string]any{"model": cfg.Deployment}
	if voice != "" {
		payload["voice"] = voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SessionSecret{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SessionSecret{}, rtconsole.NewConnectionError(url, "mint", err)
	}
	for k, v := range cfg.AuthHeaders() {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return SessionSecret{}, rtconsole.NewConnectionError(url, "mint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SessionSecret{}, rtconsole.NewConnectionError(url, "mint",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return SessionSecret{}, rtconsole.NewConnectionError(url, "mint", fmt.Errorf("decode response: %w", err))
	}
	if sr.ClientSecret.Value == "" {
		return SessionSecret{}, rtconsole.NewConnectionError(url, "mint", fmt.Errorf("response has no client secret"))
	}

	secret := SessionSecret{SessionID: sr.ID, Value: sr.ClientSecret.Value}
	if sr.ClientSecret.ExpiresAt > 0 {
		secret.ExpiresAt = time.Unix(sr.ClientSecret.ExpiresAt, 0)
	}
	return secret, nil
}
