// Package pdf renders calculation summaries through an external renderer
// service. Finalization depends on it: a failed render fails the stage.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RenderRequest carries the data the renderer needs for one document.
type RenderRequest struct {
	ProjectID    string  `json:"project_id"`
	ProjectNaam  string  `json:"project_naam"`
	Kostprijs    float64 `json:"kostprijs"`
	Verkoopprijs float64 `json:"verkoopprijs"`
	Marge        float64 `json:"marge"`
}

// Renderer produces a PDF for a finalized calculation and returns its URL.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// HTTPRenderer posts render requests to a configured endpoint.
type HTTPRenderer struct {
	URL    string
	Client *http.Client
}

func NewHTTPRenderer(url string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (r *HTTPRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode renderer response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("renderer response missing url")
	}
	return out.URL, nil
}
