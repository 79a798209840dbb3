// HTTP adapter for the vision sidecar service (CLIP-style embeddings plus a
// pairwise comparator). Mirrors the Ollama adapter: stdlib net/http, JSON
// bodies, one struct per endpoint.
// Endpoints used:
//   - POST /v1/embed    — single image embedding
//   - POST /v1/compare  — pairwise cover comparison
//   - GET  /v1/health   — health check
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider implements Provider against the vision sidecar.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates an HTTPProvider with a 60s timeout — pairwise
// comparison of two full covers is slower than a text completion.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type embedImageRequest struct {
	ImageRef string `json:"image_ref"`
}

type embedImageResponse struct {
	Embedding []float32 `json:"embedding"`
}

type compareRequest struct {
	ImageRefA string `json:"image_ref_a"`
	ImageRefB string `json:"image_ref_b"`
}

// EmbedImage computes an embedding via POST /v1/embed.
func (p *HTTPProvider) EmbedImage(ctx context.Context, ref string) ([]float32, error) {
	if ref == "" {
		return nil, fmt.Errorf("vision embed: empty image ref")
	}

	body, err := json.Marshal(embedImageRequest{ImageRef: ref})
	if err != nil {
		return nil, err
	}

	respBody, postErr := p.doPost(ctx, "/v1/embed", body)
	if postErr != nil {
		return nil, fmt.Errorf("vision embed: %w", postErr)
	}
	defer respBody.Close()

	var resp embedImageResponse
	if decodeErr := json.NewDecoder(respBody).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("decode embed response: %w", decodeErr)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("vision embed: empty vector for %q", ref)
	}
	return resp.Embedding, nil
}

// Compare scores two images via POST /v1/compare.
func (p *HTTPProvider) Compare(ctx context.Context, refA, refB string) (*Comparison, error) {
	body, err := json.Marshal(compareRequest{ImageRefA: refA, ImageRefB: refB})
	if err != nil {
		return nil, err
	}

	respBody, postErr := p.doPost(ctx, "/v1/compare", body)
	if postErr != nil {
		return nil, fmt.Errorf("vision compare: %w", postErr)
	}
	defer respBody.Close()

	var resp Comparison
	if decodeErr := json.NewDecoder(respBody).Decode(&resp); decodeErr != nil {
		return nil, fmt.Errorf("decode compare response: %w", decodeErr)
	}
	return &resp, nil
}

// HealthCheck calls GET /v1/health.
func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	url := p.baseURL + "/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("vision healthcheck: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision healthcheck: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vision healthcheck: status %d", resp.StatusCode)
	}
	return nil
}

// doPost sends a POST request to baseURL+path and returns the response body.
// Caller is responsible for closing the returned ReadCloser.
func (p *HTTPProvider) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	url := p.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("post %s: build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
