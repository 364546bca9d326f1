package pipeline

import "time"

// Stage is one ordered step of the video pipeline.
type Stage string

const (
	StageLookup   Stage = "lookup"
	StageGenerate Stage = "generate"
	StageFormat   Stage = "format"
	StageRender   Stage = "render"
	StageStore    Stage = "store"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageLookup, StageGenerate, StageFormat, StageRender, StageStore}

// Audience levels recognized by the generation templates and prompts.
const (
	AudienceBeginner = "beginner"
	AudienceAdvanced = "advanced"
)

// Concept is the result of a knowledge-graph lookup. VersionFingerprint
// identifies the graph content the concept was read from and drives the
// version-pinned freshness policy.
type Concept struct {
	Key                string   `json:"key"`
	Definition         string   `json:"definition"`
	Related            []string `json:"related"`
	VersionFingerprint string   `json:"versionFingerprint"`
}

// Slide types produced by the generation stage.
const (
	SlideTitle      = "title"
	SlideDefinition = "definition"
	SlideExample    = "example"
	SlideRelated    = "related"
	SlideSummary    = "summary"
)

type Slide struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Bullets     []string `json:"bullets,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	DurationSec int      `json:"duration_sec"`
}

// Draft is the raw slide deck and narration produced by a generation
// backend, before formatting.
type Draft struct {
	Concept       string    `json:"concept"`
	AudienceLevel string    `json:"audience_level"`
	GeneratedAt   time.Time `json:"generated_at"`
	Slides        []Slide   `json:"slides"`
	Script        string    `json:"script"`
}

// Document is the structured, renderable form of a draft. SceneSource holds
// the animation scene the renderer executes for the title slide.
type Document struct {
	Concept          string  `json:"concept"`
	AudienceLevel    string  `json:"audience_level"`
	Slides           []Slide `json:"slides"`
	Script           string  `json:"script"`
	TotalDurationSec int     `json:"total_duration_sec"`
	SceneSource      string  `json:"scene_source"`
}
