package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxSnapshotBytes bounds a single snapshot download.
const maxSnapshotBytes = 16 << 20

// HTTPSource fetches still JPEG snapshots from an IP camera endpoint.
type HTTPSource struct {
	url      string
	username string
	password string
	client   *http.Client
}

func NewHTTPSource(url, username, password string, timeout time.Duration) *HTTPSource {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		url:      url,
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Capture(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("snapshot error %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
