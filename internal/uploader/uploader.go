// Package uploader pushes built record documents to the downstream document
// repository. Uploads are keyed by the record's deterministic filename, so
// retrying one is idempotent and independent of the build sweep.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload PUTs the record document under its filename. The repository treats
// a repeated PUT of the same name as a replace, which is what makes retries
// safe.
func (c *Client) Upload(ctx context.Context, path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read record for upload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/records/%s", c.baseURL, url.PathEscape(filepath.Base(path)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload record: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("document repository returned %d for %s", resp.StatusCode, filepath.Base(path))
	}
	return nil
}
