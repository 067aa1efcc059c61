// Package catalog resolves simulator name/version strings to concrete,
// immutable simulator identities from the upstream simulator catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/verisim-io/verisim/types"
)

// DefaultTimeout is the default catalog request timeout.
const DefaultTimeout = 30 * time.Second

// Source fetches the full simulator catalog from its upstream feed.
type Source interface {
	FetchSimulators(ctx context.Context) ([]types.SimulatorVersion, error)
}

// HTTPSource fetches the catalog over HTTP
// (GET <base>/simulators?includeTests=false).
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP catalog source.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// catalogEntry is the upstream catalog wire format.
type catalogEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Image   *struct {
		URL    string `json:"url"`
		Digest string `json:"digest"`
	} `json:"image"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// FetchSimulators implements Source. Entries without a container image
// digest are skipped: without a digest there is no immutable identity to
// cache-key against.
func (s *HTTPSource) FetchSimulators(ctx context.Context) ([]types.SimulatorVersion, error) {
	url := s.baseURL + "/simulators?includeTests=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog: unexpected status %d: %s", resp.StatusCode, body)
	}

	var entries []catalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	simulators := make([]types.SimulatorVersion, 0, len(entries))
	for _, entry := range entries {
		if entry.Image == nil || entry.Image.URL == "" || entry.Image.Digest == "" {
			continue
		}
		simulators = append(simulators, types.SimulatorVersion{
			ID:      entry.ID,
			Name:    entry.Name,
			Version: entry.Version,
			Image: types.ImageInfo{
				URL:    entry.Image.URL,
				Digest: entry.Image.Digest,
			},
			Created: entry.Created,
			Updated: entry.Updated,
		})
	}
	return simulators, nil
}

// Verify HTTPSource implements Source.
var _ Source = (*HTTPSource)(nil)
