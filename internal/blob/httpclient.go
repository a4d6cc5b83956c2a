package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
)

// HTTPClient fetches blobs from a base URL over plain HTTP GET, the
// simplest Client implementation this worker ships with C1's actual blob
// store being an external system (§1).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient rooted at baseURL (e.g.
// "https://blobs.internal.example.com").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, httpClient: &http.Client{Timeout: 2 * time.Minute}}
}

func (c *HTTPClient) Fetch(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+key, nil)
	if err != nil {
		return nil, errs.New("blob.HTTPClient.Fetch", errs.Fatal, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New("blob.HTTPClient.Fetch", errs.Transient, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New("blob.HTTPClient.Fetch", errs.NotFound, fmt.Errorf("blob %q not found", key))
	}
	if resp.StatusCode >= 500 {
		return nil, errs.New("blob.HTTPClient.Fetch", errs.Transient, fmt.Errorf("blob store returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New("blob.HTTPClient.Fetch", errs.Fatal, fmt.Errorf("blob store returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New("blob.HTTPClient.Fetch", errs.Transient, fmt.Errorf("reading response body: %w", err))
	}
	return data, nil
}
