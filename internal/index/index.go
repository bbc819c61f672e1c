// Package index owns the content-addressed vector indexes: building them
// exactly once per document fingerprint, persisting them, and serving
// similarity retrieval over them.
package index

import (
	"errors"
	"time"

	"pdfchat/internal/chunk"
)

var (
	// ErrIndexBuildFailed marks a build that failed before anything became
	// visible; no partial index is ever persisted.
	ErrIndexBuildFailed = errors.New("index build failed")
	// ErrUnknownDocument marks retrieval against a fingerprint with no index.
	ErrUnknownDocument = errors.New("unknown document index")
	// ErrModelMismatch marks an index built under a different embedding
	// model than the one configured for queries.
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// IndexedVector pairs a chunk with its embedding. Never mutated after the
// index is assembled.
type IndexedVector struct {
	Chunk     chunk.Chunk
	Vector    []float32
	Dimension int
}

// DocumentIndex is the complete in-memory index for one fingerprint. It is
// read-shared by every session bound to the document; the store owns it.
type DocumentIndex struct {
	Fingerprint    string
	EmbeddingModel string
	Dimension      int
	CreatedAt      time.Time
	Vectors        []IndexedVector
}

func (d *DocumentIndex) ChunkCount() int {
	return len(d.Vectors)
}
