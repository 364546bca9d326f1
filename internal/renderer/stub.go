package renderer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/eduvid/explainer/internal/pipeline"
)

// StubRenderer produces a deterministic placeholder artifact instead of
// calling a render service. Used when no renderer URL is configured, which
// keeps local development and demos independent of a running Manim farm.
type StubRenderer struct{}

var _ pipeline.Renderer = (*StubRenderer)(nil)

func NewStubRenderer() *StubRenderer {
	return &StubRenderer{}
}

func (r *StubRenderer) Render(ctx context.Context, doc *pipeline.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil || len(doc.Slides) == 0 {
		return nil, pipeline.Permanentf("nothing to render")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, pipeline.NewPermanentError(err)
	}
	sum := sha256.Sum256(raw)
	header := fmt.Sprintf("STUBVIDEO %s %ds %x\n", doc.Concept, doc.TotalDurationSec, sum[:8])
	return append([]byte(header), doc.SceneSource...), nil
}
