package formatter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eduvid/explainer/internal/pipeline"
)

// documentSchema constrains the renderable document. A draft that cannot be
// shaped into a valid document is malformed input, never retried.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["concept", "slides", "script", "total_duration_sec", "scene_source"],
  "properties": {
    "concept": {"type": "string", "minLength": 1},
    "audience_level": {"enum": ["beginner", "advanced"]},
    "script": {"type": "string", "minLength": 1},
    "total_duration_sec": {"type": "integer", "minimum": 1},
    "scene_source": {"type": "string", "minLength": 1},
    "slides": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "title", "duration_sec"],
        "properties": {
          "type": {"enum": ["title", "definition", "example", "related", "summary"]},
          "title": {"type": "string", "minLength": 1},
          "duration_sec": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

const defaultSlideDuration = 6

// DocumentFormatter is the pure Format stage: it normalizes a draft into a
// structured document, emits the animation scene for the title slide and
// validates the result against the document schema.
type DocumentFormatter struct {
	schema *jsonschema.Schema
}

var _ pipeline.Formatter = (*DocumentFormatter)(nil)

func New() *DocumentFormatter {
	schema, err := jsonschema.CompileString("document.json", documentSchema)
	if err != nil {
		panic(err)
	}
	return &DocumentFormatter{schema: schema}
}

func (f *DocumentFormatter) Format(draft *pipeline.Draft) (*pipeline.Document, error) {
	if draft == nil {
		return nil, pipeline.Permanentf("nil draft")
	}
	if draft.Concept == "" {
		return nil, pipeline.Permanentf("draft has no concept")
	}
	if len(draft.Slides) == 0 {
		return nil, pipeline.Permanentf("draft has no slides")
	}

	audience := draft.AudienceLevel
	if audience == "" {
		audience = pipeline.AudienceBeginner
	}

	slides := make([]pipeline.Slide, len(draft.Slides))
	copy(slides, draft.Slides)

	total := 0
	narration := make([]string, 0, len(slides))
	for i := range slides {
		if slides[i].DurationSec <= 0 {
			slides[i].DurationSec = defaultSlideDuration
		}
		total += slides[i].DurationSec
		if slides[i].Notes != "" {
			narration = append(narration, slides[i].Notes)
		}
	}

	script := draft.Script
	if script == "" {
		script = strings.Join(narration, "\n\n")
	}

	doc := &pipeline.Document{
		Concept:          draft.Concept,
		AudienceLevel:    audience,
		Slides:           slides,
		Script:           script,
		TotalDurationSec: total,
		SceneSource:      sceneSource(slides[0]),
	}

	if err := f.validate(doc); err != nil {
		return nil, pipeline.NewPermanentError(fmt.Errorf("malformed document: %w", err))
	}
	return doc, nil
}

func (f *DocumentFormatter) validate(doc *pipeline.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return f.schema.Validate(v)
}

// sceneSource renders a minimal Community-Manim scene for the title slide.
func sceneSource(title pipeline.Slide) string {
	titleText, _ := json.Marshal(title.Title)
	subtitleText, _ := json.Marshal(title.Subtitle)

	return fmt.Sprintf(`from manim import *

class SimpleTitleScene(Scene):
    def construct(self):
        title = Text(%s).scale(1.2).to_edge(UP)
        subtitle = Text(%s).scale(0.6).next_to(title, DOWN)
        self.play(Write(title))
        self.wait(0.6)
        self.play(Write(subtitle))
        self.wait(2)
`, titleText, subtitleText)
}
