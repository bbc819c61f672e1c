package model

import (
	"encoding/json"
	"time"
)

// DocumentIndex is the metadata row for one built index, keyed by the
// document fingerprint. Never mutated in place; a model change produces a
// new row under a new fingerprint namespace, not a patch of this one.
type DocumentIndex struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Fingerprint    string    `gorm:"size:64;not null;uniqueIndex" json:"fingerprint"`
	EmbeddingModel string    `gorm:"size:128;not null" json:"embedding_model"`
	Dimension      int       `gorm:"not null" json:"dimension"`
	ChunkCount     int       `gorm:"not null" json:"chunk_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// IndexedChunk stores one chunk's text and its embedding for retrieval.
// Embedding is stored as a JSON array of float32 for portability.
type IndexedChunk struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Fingerprint string    `gorm:"size:64;not null;index" json:"fingerprint"`
	Ordinal     int       `gorm:"not null" json:"ordinal"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Embedding   string    `gorm:"type:mediumtext" json:"-"` // JSON array of float32
	CreatedAt   time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *IndexedChunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *IndexedChunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
