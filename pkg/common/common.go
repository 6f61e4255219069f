package common

import (
	"fmt"
	"strings"
)

// Namespace is the tenancy boundary for all stored data. Every chunk,
// entity, relation and embedding belongs to exactly one namespace, and
// no operation ever crosses namespaces.
type Namespace struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
}

// Key returns the canonical string form used for directory names,
// database partitions and cache keys.
func (n Namespace) Key() string {
	return fmt.Sprintf("%s_%s", n.UserID, n.ProjectID)
}

func (n Namespace) String() string {
	return n.Key()
}

// Valid reports whether both components are non-empty.
func (n Namespace) Valid() bool {
	return n.UserID != "" && n.ProjectID != ""
}

// Chunk is a content-addressed slice of source text. It is the unit of
// extraction and of evidence citation. Chunks are immutable: the ID is
// derived from the source ID and content, so re-inserting identical text
// produces the same chunk.
type Chunk struct {
	ID       string            `json:"id"`
	SourceID string            `json:"source_id"`
	Content  string            `json:"content"`
	Order    int               `json:"order"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Entity represents a node in the knowledge graph. Entities are keyed by
// normalized name within one namespace and are mutable by merge: repeated
// extraction of the same name grows the description and chunk evidence.
type Entity struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Descriptions []string `json:"descriptions"`
	Chunks       []string `json:"chunks"`

	// Seq is the insertion sequence assigned by the graph store, used
	// for deterministic recency tie-breaking. Zero until stored.
	Seq int64 `json:"seq,omitempty"`
}

// Description joins the collected description fragments into one text.
func (e Entity) Description() string {
	return strings.Join(e.Descriptions, " ")
}

// Relation represents a directed edge between two entities, traversed in
// both directions during score propagation. Multiple extractions of the
// same pair merge descriptions and chunk evidence instead of duplicating
// the edge.
type Relation struct {
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Descriptions []string `json:"descriptions"`
	Strength     float64  `json:"strength"`
	Chunks       []string `json:"chunks"`

	// Seq is the insertion sequence assigned by the graph store, used
	// for deterministic recency tie-breaking. Zero until stored.
	Seq int64 `json:"seq,omitempty"`
}

// Description joins the collected description fragments into one text.
func (r Relation) Description() string {
	return strings.Join(r.Descriptions, " ")
}

// PairKey returns the undirected identity of the edge, used for merging.
func (r Relation) PairKey() string {
	a, b := NormalizeName(r.Source), NormalizeName(r.Target)
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// NormalizeName canonicalizes an entity name: upper-cased with interior
// whitespace collapsed. Entity identity within a namespace is defined
// over normalized names.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// AppendUnique appends each value to list if it is not already present,
// preserving order. Used for description and chunk-evidence merges so
// that merging is idempotent and order-independent in its final set.
func AppendUnique(list []string, values ...string) []string {
	seen := make(map[string]struct{}, len(list))
	for _, v := range list {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		list = append(list, v)
	}
	return list
}
