// Package extract wraps the external text-extraction service that turns an
// uploaded statement file (PDF or scan) into plain text. The service is a
// black box; a failure here fails the statement's first pipeline stage.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Extractor produces plain text from raw statement bytes.
type Extractor interface {
	ExtractText(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// HTTPExtractor calls an extraction service over HTTP. One request per file,
// no retries: the pipeline records the failure and the user re-uploads.
type HTTPExtractor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPExtractor creates an extractor against the given base URL.
func NewHTTPExtractor(baseURL, apiKey string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type extractResponse struct {
	Text string `json:"text"`
}

// ExtractText implements Extractor.
func (e *HTTPExtractor) ExtractText(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Filename", filename)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("extraction service returned no text for %q", filename)
	}
	return out.Text, nil
}

var _ Extractor = (*HTTPExtractor)(nil)
