package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eduvid/explainer/internal/pipeline"
)

// Narration templates. Audience level only varies the definition wording.
const (
	titleIntroTemplate = "Welcome! Today we'll learn about %s."

	definitionTemplateBeginner = "%s can be understood as: %s I'll explain the idea step by step with a simple example."
	definitionTemplateAdvanced = "Formally, %s is: %s We'll also highlight important properties and implications."

	exampleTemplate = "Example: Consider %s. This demonstrates the main idea: %s."
	relatedTemplate = "Related topics you might want to learn next: %s."
)

// TemplateGenerator produces a deterministic slide deck and narration script
// from a concept. It never fails transiently; the only failure mode is an
// empty concept, which is permanent.
type TemplateGenerator struct{}

var _ pipeline.Generator = (*TemplateGenerator)(nil)

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Generate(ctx context.Context, concept *pipeline.Concept, audienceLevel string) (*pipeline.Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if concept == nil || concept.Key == "" {
		return nil, pipeline.Permanentf("empty concept")
	}

	definition := concept.Definition
	if definition == "" {
		definition = "Definition not available."
	}

	var slides []pipeline.Slide
	var narration []string

	slides = append(slides, pipeline.Slide{
		Type:        pipeline.SlideTitle,
		Title:       fmt.Sprintf("Introduction to %s", concept.Key),
		Subtitle:    truncate(definition, 15),
		DurationSec: 4,
	})
	narration = append(narration, fmt.Sprintf(titleIntroTemplate, concept.Key))

	defTemplate := definitionTemplateBeginner
	if audienceLevel == pipeline.AudienceAdvanced {
		defTemplate = definitionTemplateAdvanced
	}
	definitionText := fmt.Sprintf(defTemplate, concept.Key, definition)
	slides = append(slides, pipeline.Slide{
		Type:        pipeline.SlideDefinition,
		Title:       fmt.Sprintf("What is %s?", concept.Key),
		Bullets:     []string{truncate(definition, 20)},
		Notes:       definitionText,
		DurationSec: 10,
	})
	narration = append(narration, definitionText)

	// Without a dedicated example in the graph, build a tiny illustrative one
	// from the first related topic.
	var exampleBrief, examplePoint string
	if len(concept.Related) > 0 {
		exampleBrief = fmt.Sprintf("a simple case involving %s", concept.Related[0])
		examplePoint = fmt.Sprintf("how %s uses %s in structure/operation", concept.Key, concept.Related[0])
	} else {
		exampleBrief = "a simple conceptual scenario"
		examplePoint = fmt.Sprintf("the core intuition behind %s", concept.Key)
	}
	exampleNotes := fmt.Sprintf(exampleTemplate, exampleBrief, examplePoint)
	slides = append(slides, pipeline.Slide{
		Type:  pipeline.SlideExample,
		Title: fmt.Sprintf("Simple example: %s", truncate(exampleBrief, 6)),
		Bullets: []string{
			"Set up the scenario",
			fmt.Sprintf("Apply the core idea of %s", concept.Key),
			"Observe the result / takeaway",
		},
		Notes:       exampleNotes,
		DurationSec: 12,
	})
	narration = append(narration, exampleNotes)

	relatedBullets := concept.Related
	relatedList := safeJoin(concept.Related)
	if len(concept.Related) == 0 {
		relatedBullets = []string{"Further reading not available"}
		relatedList = "No related topics available."
	}
	relatedNotes := fmt.Sprintf(relatedTemplate, relatedList)
	slides = append(slides, pipeline.Slide{
		Type:        pipeline.SlideRelated,
		Title:       "Related topics & next steps",
		Bullets:     relatedBullets,
		Notes:       relatedNotes,
		DurationSec: 6,
	})
	narration = append(narration, relatedNotes)

	summary := fmt.Sprintf("In summary, %s: %s", concept.Key, truncate(definition, 20))
	slides = append(slides, pipeline.Slide{
		Type:        pipeline.SlideSummary,
		Title:       "Summary",
		Bullets:     []string{truncate(definition, 20)},
		Notes:       summary,
		DurationSec: 6,
	})
	narration = append(narration, summary)

	return &pipeline.Draft{
		Concept:       concept.Key,
		AudienceLevel: audienceLevel,
		GeneratedAt:   time.Now().UTC(),
		Slides:        slides,
		Script:        strings.Join(narration, "\n\n"),
	}, nil
}

// truncate keeps at most maxWords words, appending an ellipsis when cut.
func truncate(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// safeJoin joins non-empty values with commas.
func safeJoin(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ", ")
}
