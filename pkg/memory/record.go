package memory

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies the origin of a memory record.
type Type string

const (
	TypeText         Type = "text"
	TypeImage        Type = "image"
	TypeAudio        Type = "audio"
	TypeDocument     Type = "document"
	TypeConversation Type = "conversation"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeDocument, TypeConversation:
		return true
	}
	return false
}

// Record is one stored content unit with its embedding and metadata.
// The same id keys the metadata store and the vector store entries.
// Records are immutable after creation except for metadata merges owned by
// external collaborators.
type Record struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Content    string            `json:"content"`
	Type       Type              `json:"memory_type"`
	Embedding  []float32         `json:"embedding,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Source     string            `json:"source,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	DocumentID string            `json:"document_id,omitempty"` // groups chunks of one ingested document
}

// NewRecordID generates a new unique record ID.
func NewRecordID() string {
	return uuid.New().String()
}

// SearchResult is one ranked hit returned by the retrieval engine.
type SearchResult struct {
	Record     *Record `json:"memory"`
	Similarity float64 `json:"similarity_score"`
}
