package concept

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/eduvid/explainer/internal/pipeline"
)

// Entry is one concept node of the knowledge graph.
type Entry struct {
	Definition string   `json:"definition"`
	Related    []string `json:"related"`
}

// Graph maps concept keys to their entries.
type Graph map[string]Entry

// FileStore is a read-only pipeline.ConceptStore backed by a knowledge-graph
// file (JSON, or YAML converted to JSON). The version fingerprint is the
// sha256 of the canonical graph content, so edits to the graph invalidate
// version-pinned cached jobs without relying on wall-clock time.
type FileStore struct {
	graph       Graph
	fingerprint string
}

var _ pipeline.ConceptStore = (*FileStore)(nil)

// NewFileStore loads a knowledge graph from path. An empty path yields the
// built-in seed graph.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return NewStaticStore(SeedGraph()), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading knowledge graph")
	}

	jsonRaw, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing knowledge graph")
	}

	var graph Graph
	if err := json.Unmarshal(jsonRaw, &graph); err != nil {
		return nil, errors.Wrap(err, "decoding knowledge graph")
	}

	return NewStaticStore(graph), nil
}

// NewStaticStore wraps an in-memory graph.
func NewStaticStore(graph Graph) *FileStore {
	return &FileStore{
		graph:       graph,
		fingerprint: fingerprint(graph),
	}
}

func (s *FileStore) Lookup(ctx context.Context, key string) (*pipeline.Concept, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, ok := s.graph[key]
	if !ok {
		return nil, pipeline.ErrConceptNotFound
	}

	related := make([]string, len(entry.Related))
	copy(related, entry.Related)

	return &pipeline.Concept{
		Key:                key,
		Definition:         entry.Definition,
		Related:            related,
		VersionFingerprint: s.fingerprint,
	}, nil
}

// Fingerprint returns the content version of the loaded graph.
func (s *FileStore) Fingerprint() string {
	return s.fingerprint
}

// fingerprint hashes the graph in key order so the result is independent of
// map iteration and of cosmetic differences in the source file.
func fingerprint(graph Graph) string {
	keys := make([]string, 0, len(graph))
	for k := range graph {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, k := range keys {
		_ = enc.Encode(k)
		_ = enc.Encode(graph[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SeedGraph returns the default demo graph shipped with the service.
func SeedGraph() Graph {
	return Graph{
		"Data Structures": {
			Definition: "Ways to store and organize data efficiently.",
			Related:    []string{"Arrays", "Linked List", "Trees"},
		},
		"Algorithms": {
			Definition: "Step-by-step procedures to solve problems.",
			Related:    []string{"Sorting", "Searching"},
		},
		"Trees": {
			Definition: "A hierarchical data structure with nodes.",
			Related:    []string{"Binary Tree", "Graphs"},
		},
		"Graphs": {
			Definition: "A collection of nodes connected by edges.",
			Related:    []string{"Trees", "Graph Traversal"},
		},
	}
}
