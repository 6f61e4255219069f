package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns an opaque record id. Callers use it for source documents
// and other records whose identity is not content-derived.
func NewID() (string, error) {
	return gonanoid.New()
}

// MustID is NewID for call sites where id generation cannot reasonably
// fail (it reads from crypto/rand); it panics on error.
func MustID() string {
	return gonanoid.Must()
}
