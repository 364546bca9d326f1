package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eduvid/explainer/internal/pipeline"
)

// HTTPRenderer drives an external render service. The service receives the
// document as JSON on POST /render and replies with the video bytes. The
// renderer is treated as opaque: connection errors and 5xx answers are
// transient, 4xx answers mean the document itself was rejected.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

var _ pipeline.Renderer = (*HTTPRenderer)(nil)

func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: baseURL,
		// Per-attempt deadlines come from the caller's context; the client
		// timeout is only a safety net against leaked connections.
		client: &http.Client{Timeout: 15 * time.Minute},
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, doc *pipeline.Document) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, pipeline.NewPermanentError(fmt.Errorf("encoding document: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, pipeline.NewPermanentError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, pipeline.NewTransientError(fmt.Errorf("render request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.NewTransientError(fmt.Errorf("reading render response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(body) == 0 {
			return nil, pipeline.Transientf("renderer returned an empty artifact")
		}
		return body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, pipeline.Transientf("renderer unavailable: %s: %s", resp.Status, truncateBody(body))
	default:
		return nil, pipeline.Permanentf("renderer rejected document: %s: %s", resp.Status, truncateBody(body))
	}
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
