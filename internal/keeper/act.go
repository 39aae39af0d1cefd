package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoTransition is returned when the engine was already in a state the
// action cannot leave (for example pausing a paused engine).
var ErrNoTransition = errors.New("control action did not change status")

// ControlResult is the response from POST /api/v1/control.
type ControlResult struct {
	Action  string `json:"action"`
	Changed bool   `json:"changed"`
	Status  string `json:"status"`
}

// Actor drives the engine via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Control sends pause, resume or stop to POST /api/v1/control. A 409
// answer returns the decoded result together with ErrNoTransition.
func (a *Actor) Control(ctx context.Context, action string) (*ControlResult, error) {
	body, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return nil, fmt.Errorf("marshal control: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/v1/control", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST control: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
	default:
		return nil, fmt.Errorf("control %s failed (%d): %s", action, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var result ControlResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode == http.StatusConflict {
		return &result, ErrNoTransition
	}
	return &result, nil
}
