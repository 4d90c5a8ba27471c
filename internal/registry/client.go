package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// HTTPClient is the cross-process registry client a worker/skeptic
// process holds against the orchestrator's C3 HTTP surface (spec §4.11:
// "one [process] per agent role"). It implements the small
// HotpathQuerier seam the C6 pipeline needs, the same split the teacher
// uses between its gin handlers and any remote caller of pkg/api.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPClient builds a client with the given request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

type listAgentsResponse struct {
	Agents []models.AgentRecord `json:"agents"`
}

// ListHotpath fetches the hotpath-flagged agent set from GET /agents?hotpath=true.
func (c *HTTPClient) ListHotpath(ctx context.Context) ([]models.AgentRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/agents?hotpath=true", nil)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry client: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry client: unexpected status %d", resp.StatusCode)
	}

	var body listAgentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("registry client: decode response: %w", err)
	}
	return body.Agents, nil
}

var _ interface {
	ListHotpath(ctx context.Context) ([]models.AgentRecord, error)
} = (*HTTPClient)(nil)
