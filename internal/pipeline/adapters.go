package pipeline

import "context"

// ConceptStore exposes concept lookup by key. Lookup returns
// ErrConceptNotFound when the key is absent from the graph.
type ConceptStore interface {
	Lookup(ctx context.Context, key string) (*Concept, error)
}

// Generator turns a concept into a script+slide draft. Implementations
// classify their failures with TransientError / PermanentError.
type Generator interface {
	Generate(ctx context.Context, concept *Concept, audienceLevel string) (*Draft, error)
}

// Formatter is a pure transform from draft to renderable document. The only
// expected failure mode is a malformed draft, which is permanent.
type Formatter interface {
	Format(draft *Draft) (*Document, error)
}

// Renderer turns a document into video bytes.
type Renderer interface {
	Render(ctx context.Context, doc *Document) ([]byte, error)
}
