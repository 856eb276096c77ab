// Package document defines the Document entity and the conventions for
// splitting a document into chunks and putting it back together.
package document

import (
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"
)

// Type classifies a document.
type Type string

const (
	TypeLaw        Type = "law"
	TypeRegulation Type = "regulation"
	TypeDirective  Type = "directive"
	TypeManual     Type = "manual"
	TypeHandbook   Type = "handbook"
	TypeArticle    Type = "article"
	TypeOther      Type = "other"
)

var validTypes = []Type{TypeLaw, TypeRegulation, TypeDirective, TypeManual, TypeHandbook, TypeArticle, TypeOther}

// ParseType reports whether s names a known document type.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	if slices.Contains(validTypes, t) {
		return t, true
	}
	return TypeOther, false
}

// TypeOrDefault is the fallback policy for unrecognised types: the document
// is classified as TypeOther and a warning is logged. It never fails.
func TypeOrDefault(s string) Type {
	t, ok := ParseType(s)
	if !ok {
		slog.Warn("unknown document type, using default", "type", s, "default", TypeOther)
	}
	return t
}

// Status is the processing state of a document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusArchived   Status = "archived"
)

// ParseStatus reports whether s names a known status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusArchived:
		return st, true
	}
	return "", false
}

// ChunkMetadata positions a chunk inside its parent document. Start and End
// are rune offsets into the cleaned parent text.
type ChunkMetadata struct {
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	ChunkType   string `json:"chunk_type,omitempty"`
	Section     string `json:"section,omitempty"`
	StartChar   int    `json:"start_char"`
	EndChar     int    `json:"end_char"`
}

// Document is either a whole document (ChunkMetadata nil) or a chunk of one
// (ChunkMetadata set and OriginalDocID naming the parent).
type Document struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	SourceLink string `json:"source_link"`
	Type       Type   `json:"document_type"`
	Status     Status `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	LastValidated *time.Time `json:"last_validated,omitempty"`

	Category string   `json:"category,omitempty"`
	Topics   []string `json:"topics,omitempty"`
	Language string   `json:"language"`

	ChunkMetadata *ChunkMetadata `json:"chunk_metadata,omitempty"`
	OriginalDocID string         `json:"original_doc_id,omitempty"`

	RelatedDocs   []string `json:"related_docs,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Supersedes    []string `json:"supersedes,omitempty"`

	ImportanceScore float64 `json:"importance_score"`
	ValidationScore float64 `json:"validation_score"`
	UsageCount      int64   `json:"usage_count"`

	Metadata map[string]any `json:"metadata"`
}

// IsChunk reports whether d represents a chunk of another document.
func (d *Document) IsChunk() bool {
	return d.ChunkMetadata != nil
}

// UpdateContent replaces the content and refreshes UpdatedAt.
func (d *Document) UpdateContent(content string) {
	old := len(d.Content)
	d.Content = content
	d.touch()
	slog.Debug("document content updated", "document_id", d.ID, "old_length", old, "new_length", len(content))
}

// UpdateMetadata merges md into the metadata map and refreshes UpdatedAt.
func (d *Document) UpdateMetadata(md map[string]any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any, len(md))
	}
	maps.Copy(d.Metadata, md)
	d.touch()
}

// IncrementUsage records one retrieval use and returns the new count.
func (d *Document) IncrementUsage() int64 {
	return atomic.AddInt64(&d.UsageCount, 1)
}

// Usage returns the current usage count.
func (d *Document) Usage() int64 {
	return atomic.LoadInt64(&d.UsageCount)
}

func (d *Document) touch() {
	now := time.Now().UTC()
	d.UpdatedAt = &now
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	c.UsageCount = d.Usage()
	c.Topics = slices.Clone(d.Topics)
	c.RelatedDocs = slices.Clone(d.RelatedDocs)
	c.Prerequisites = slices.Clone(d.Prerequisites)
	c.Supersedes = slices.Clone(d.Supersedes)
	c.Metadata = maps.Clone(d.Metadata)
	if d.ChunkMetadata != nil {
		cm := *d.ChunkMetadata
		c.ChunkMetadata = &cm
	}
	if d.UpdatedAt != nil {
		t := *d.UpdatedAt
		c.UpdatedAt = &t
	}
	if d.LastValidated != nil {
		t := *d.LastValidated
		c.LastValidated = &t
	}
	return &c
}
