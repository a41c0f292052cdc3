package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxSnapshotBytes bounds the size of a single still
const maxSnapshotBytes = 32 << 20

// HTTPSource fetches stills from a camera snapshot URL
type HTTPSource struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP snapshot source. Deadlines come from the caller's context.
func NewHTTPSource(url, username, password string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{
		url:        url,
		username:   username,
		password:   password,
		httpClient: client,
	}
}

// Kind returns the source kind
func (s *HTTPSource) Kind() string {
	return "http"
}

// Snapshot downloads the current still
func (s *HTTPSource) Snapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", maxSnapshotBytes)
	}
	return data, nil
}
