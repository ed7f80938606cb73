package model

import (
	"encoding/json"
	"time"
)

// PrivacyLevel restricts which users may see a document or chunk.
// Non-admin callers always see public only; admins may request "all".
type PrivacyLevel string

const (
	PrivacyPublic  PrivacyLevel = "public"
	PrivacyPrivate PrivacyLevel = "private"
)

// PrivacyFilter is the requested visibility scope for a store search.
type PrivacyFilter string

const (
	PrivacyFilterPublic  PrivacyFilter = "public"
	PrivacyFilterPrivate PrivacyFilter = "private"
	PrivacyFilterAll     PrivacyFilter = "all"
)

// Document is an ingested file. Documents are immutable once ingested;
// deletion cascades to chunks. Ingestion itself is an external batch
// pipeline — this repo only reads, lists, downloads, and deletes.
type Document struct {
	ID             string          `json:"id"`
	FileName       string          `json:"fileName"`
	ContentHash    string          `json:"contentHash"`
	PrivacyLevel   PrivacyLevel    `json:"privacyLevel"`
	Classification string          `json:"classification"`
	Product        string          `json:"product"`
	Version        string          `json:"version"`
	ChunkCount     int             `json:"chunkCount"`
	StorageURI     string          `json:"storageUri,omitempty"`
	SizeBytes      int64           `json:"sizeBytes"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ChunkKind enumerates the kind of content a chunk carries.
type ChunkKind string

const (
	ChunkKindText     ChunkKind = "text"
	ChunkKindTable    ChunkKind = "table"
	ChunkKindImageRef ChunkKind = "image_ref"
)

// Chunk is a retrieval unit owned by exactly one Document. Invariant:
// Chunk.PrivacyLevel == Document.PrivacyLevel at the time of write.
type Chunk struct {
	ID           string       `json:"id"`
	DocumentID   string       `json:"documentId"`
	Ordinal      int          `json:"ordinal"`
	Page         int          `json:"page"`
	SectionTitle string       `json:"sectionTitle"`
	Kind         ChunkKind    `json:"kind"`
	Content      string       `json:"content"`
	ContentHash  string       `json:"contentHash"`
	TokenCount   int          `json:"tokenCount"`
	Embedding    []float32    `json:"-"`
	PrivacyLevel PrivacyLevel `json:"privacyLevel"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// MaxDownloadSizeBytes bounds raw document downloads served by the gateway.
const MaxDownloadSizeBytes = 200 * 1024 * 1024
