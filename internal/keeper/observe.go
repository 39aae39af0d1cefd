// Package keeper implements the rule-based beekeeper. It observes the
// simulation via the API, triages colony health, and can pause the engine
// through the admin control endpoint.
package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Snapshot holds all data collected during an observation cycle.
type Snapshot struct {
	Status   Status       `json:"status"`
	Colonies []ColonyInfo `json:"colonies"`
}

// Status mirrors GET /api/v1/status.
type Status struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Tick       uint64         `json:"tick"`
	TotalTicks uint64         `json:"total_ticks"`
	SimTime    string         `json:"sim_time"`
	Colonies   int            `json:"colonies"`
	Viable     int            `json:"viable"`
	Living     int            `json:"living"`
	Kinds      map[string]int `json:"kinds"`
	Weather    struct {
		Season      string  `json:"season"`
		TempC       float64 `json:"temp_c"`
		NectarFlow  float64 `json:"nectar_flow"`
		Raining     bool    `json:"raining"`
		Description string  `json:"description"`
		CanForage   bool    `json:"can_forage"`
	} `json:"weather"`
}

// ColonyInfo mirrors items from GET /api/v1/colonies.
type ColonyInfo struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Viable     bool           `json:"viable"`
	Living     int            `json:"living"`
	Honey      float64        `json:"honey"`
	Brood      int            `json:"brood"`
	Born       uint64         `json:"born"`
	Died       uint64         `json:"died"`
	MinWorkers int            `json:"min_workers"`
	Kinds      map[string]int `json:"kinds"`
}

// Observer fetches simulation state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the status and colony endpoints.
func (o *Observer) Observe(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/colonies", &snap.Colonies); err != nil {
		return nil, fmt.Errorf("fetch colonies: %w", err)
	}
	return snap, nil
}

// WaitReady polls the status endpoint with exponential backoff until it
// answers 200 or ctx ends.
func (o *Observer) WaitReady(ctx context.Context, maxBackoff time.Duration) error {
	backoff := 250 * time.Millisecond
	for {
		var st Status
		err := o.fetchJSON(ctx, "/api/v1/status", &st)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("api not ready: %w", err)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
