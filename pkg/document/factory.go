package document

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/metadata"
)

// Metadata keys shared between documents, their chunks and the vector store
// records that hold them.
const (
	KeyOriginalID       = "original_id"
	KeyChunkIndex       = "chunk_index"
	KeyTotalChunks      = "total_chunks"
	KeyChunkType        = "chunk_type"
	KeySection          = "section"
	KeyStartChar        = "start_char"
	KeyEndChar          = "end_char"
	KeyChunkCount       = "chunk_count"
	KeyTitle            = "title"
	KeySourceLink       = "source_link"
	KeyDocumentType     = "document_type"
	KeyStatus           = "status"
	KeyCreatedAt        = "created_at"
	KeyLanguage         = "language"
	KeyCategory         = "category"
	KeyTopics           = "topics"
	KeyImportanceScore  = "importance_score"
	KeyProcessorVersion = "processor_version"
	KeySearchScore      = "search_score"
	KeyDistance         = "distance"
)

// chunkOnlyKeys are meaningful on a chunk but not on the document rebuilt
// from it.
var chunkOnlyKeys = []string{KeyChunkIndex, KeyTotalChunks, KeyOriginalID, KeyChunkType, KeySection, KeyStartChar, KeyEndChar}

// recordKeys are lifted into Document fields by FromRecord.
var recordKeys = []string{KeyTitle, KeySourceLink, KeyDocumentType, KeyStatus, KeyCreatedAt, KeyLanguage, KeyCategory, KeyTopics, KeyImportanceScore}

const (
	DefaultLanguage  = "de"
	ProcessorVersion = "1.0"
	chunkTitleMarker = " (Chunk"
)

// Factory builds documents and chunks and rebuilds documents from chunks.
type Factory struct {
	now func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryClock overrides the time source used for created_at stamps.
func WithFactoryClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateDocument builds a pending document. Unknown types fall back to
// TypeOther through TypeOrDefault. Language, category and topics are taken
// from md when present.
func (f *Factory) CreateDocument(id, title, content, sourceLink, docType string, md map[string]any) *Document {
	now := f.now().UTC()
	base := map[string]any{
		KeyCreatedAt:        now.Format(time.RFC3339Nano),
		KeyProcessorVersion: ProcessorVersion,
	}
	maps.Copy(base, md)

	doc := &Document{
		ID:         id,
		Title:      title,
		Content:    content,
		SourceLink: sourceLink,
		Type:       TypeOrDefault(strings.ToLower(docType)),
		Status:     StatusPending,
		CreatedAt:  now,
		Language:   DefaultLanguage,
		Metadata:   base,
	}
	if lang, ok := metadata.String(md[KeyLanguage]); ok && lang != "" {
		doc.Language = lang
	}
	if cat, ok := metadata.String(md[KeyCategory]); ok {
		doc.Category = cat
	}
	if topics, ok := metadata.StringList(md[KeyTopics]); ok {
		doc.Topics = slices.Clone(topics)
	}
	return doc
}

// ChunkSpec describes one chunk of a parent document. Start and End are rune
// offsets of Content inside the cleaned parent text.
type ChunkSpec struct {
	Content string
	Index   int
	Total   int
	Section string
	Start   int
	End     int
}

// ChunkIDSeparator joins a document id and a chunk index in chunk ids.
const ChunkIDSeparator = "_chunk_"

// ChunkID returns the id of chunk index of the document id.
func ChunkID(id string, index int) string {
	return id + ChunkIDSeparator + strconv.Itoa(index)
}

// CreateChunk builds the chunk document described by c. The chunk inherits
// the parent's classification and a copy of its metadata.
func (f *Factory) CreateChunk(parent *Document, c ChunkSpec) *Document {
	md := maps.Clone(parent.Metadata)
	if md == nil {
		md = make(map[string]any, 6)
	}
	md[KeyOriginalID] = parent.ID
	md[KeyChunkIndex] = c.Index
	md[KeyTotalChunks] = c.Total
	md[KeySection] = c.Section
	md[KeyStartChar] = c.Start
	md[KeyEndChar] = c.End

	return &Document{
		ID:         ChunkID(parent.ID, c.Index),
		Title:      fmt.Sprintf("%s (Chunk %d/%d)", parent.Title, c.Index+1, c.Total),
		Content:    c.Content,
		SourceLink: parent.SourceLink,
		Type:       parent.Type,
		Status:     parent.Status,
		CreatedAt:  parent.CreatedAt,
		Category:   parent.Category,
		Topics:     slices.Clone(parent.Topics),
		Language:   parent.Language,
		ChunkMetadata: &ChunkMetadata{
			ChunkIndex:  c.Index,
			TotalChunks: c.Total,
			Section:     c.Section,
			StartChar:   c.Start,
			EndChar:     c.End,
		},
		OriginalDocID:   parent.ID,
		ImportanceScore: parent.ImportanceScore,
		Metadata:        md,
	}
}

// ReconstructFromChunks rebuilds document id from its chunks. Input order is
// irrelevant: chunks are sorted by index, overlapping text is dropped using
// the recorded offsets, and the remaining contents are joined with single
// spaces. Where the offsets show that a chunk continues the previous one
// without whitespace, as after a cut inside a word, no space is inserted.
func (f *Factory) ReconstructFromChunks(chunks []*Document, id string) (*Document, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to reconstruct document %s", errdefs.ErrProcessing, id)
	}

	sorted := slices.Clone(chunks)
	slices.SortStableFunc(sorted, func(a, b *Document) int {
		return chunkIndex(a) - chunkIndex(b)
	})

	var content strings.Builder
	merged := make(map[string]any)
	prevEnd := -1
	for _, c := range sorted {
		maps.Copy(merged, c.Metadata)

		text, sep := c.Content, " "
		start, end, ok := offsets(c)
		if ok {
			switch {
			case prevEnd > start:
				runes := []rune(text)
				cut := min(prevEnd-start, len(runes))
				if cut < len(runes) && !unicode.IsSpace(runes[cut]) {
					sep = ""
				}
				text = string(runes[cut:])
			case prevEnd == start:
				sep = ""
			}
			prevEnd = max(prevEnd, end)
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		if content.Len() > 0 {
			content.WriteString(sep)
		}
		content.WriteString(text)
	}

	for _, k := range chunkOnlyKeys {
		delete(merged, k)
	}
	merged[KeyChunkCount] = len(sorted)

	first := sorted[0]
	title, _, _ := strings.Cut(first.Title, chunkTitleMarker)

	doc := &Document{
		ID:              id,
		Title:           title,
		Content:         content.String(),
		SourceLink:      first.SourceLink,
		Type:            first.Type,
		Status:          first.Status,
		CreatedAt:       first.CreatedAt,
		Category:        first.Category,
		Topics:          slices.Clone(first.Topics),
		Language:        first.Language,
		ImportanceScore: first.ImportanceScore,
		Metadata:        merged,
	}
	slog.Debug("document reconstructed from chunks", "document_id", id, "chunk_count", len(sorted), "content_length", len(doc.Content))
	return doc, nil
}

func chunkIndex(d *Document) int {
	if d.ChunkMetadata != nil {
		return d.ChunkMetadata.ChunkIndex
	}
	i, _ := metadata.Int(d.Metadata[KeyChunkIndex])
	return i
}

func offsets(d *Document) (start, end int, ok bool) {
	if d.ChunkMetadata != nil {
		start, end = d.ChunkMetadata.StartChar, d.ChunkMetadata.EndChar
		return start, end, end > start
	}
	s, okS := metadata.Int(d.Metadata[KeyStartChar])
	e, okE := metadata.Int(d.Metadata[KeyEndChar])
	return s, e, okS && okE && e > s
}

// FromRecord converts a vector store record into a Document. Fields missing
// from md get defaults: a title derived from the id, a placeholder source
// link, type other, status completed, language de and the current time.
// Chunk records come back as chunks.
func (f *Factory) FromRecord(id, content string, md map[string]any) *Document {
	md = maps.Clone(md)
	if md == nil {
		md = make(map[string]any)
	}

	doc := &Document{
		ID:         id,
		Title:      "Dokument " + truncate(id, 8),
		Content:    content,
		SourceLink: "https://default-source/" + id,
		Type:       TypeOther,
		Status:     StatusCompleted,
		CreatedAt:  f.now().UTC(),
		Language:   DefaultLanguage,
	}

	if v, ok := metadata.String(md[KeyTitle]); ok && v != "" {
		doc.Title = v
	}
	if v, ok := metadata.String(md[KeySourceLink]); ok && v != "" {
		doc.SourceLink = v
	}
	if v, ok := metadata.String(md[KeyDocumentType]); ok {
		doc.Type = TypeOrDefault(v)
	}
	if v, ok := metadata.String(md[KeyStatus]); ok {
		if st, known := ParseStatus(v); known {
			doc.Status = st
		}
	}
	if v, ok := metadata.String(md[KeyCreatedAt]); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			doc.CreatedAt = ts
		}
	}
	if v, ok := metadata.String(md[KeyLanguage]); ok && v != "" {
		doc.Language = v
	}
	if v, ok := metadata.String(md[KeyCategory]); ok {
		doc.Category = v
	}
	if v, ok := metadata.StringList(md[KeyTopics]); ok {
		doc.Topics = v
	}
	if v, ok := metadata.Float(md[KeyImportanceScore]); ok {
		doc.ImportanceScore = v
	}

	if orig, ok := metadata.String(md[KeyOriginalID]); ok && orig != "" {
		idx, _ := metadata.Int(md[KeyChunkIndex])
		total, _ := metadata.Int(md[KeyTotalChunks])
		start, _ := metadata.Int(md[KeyStartChar])
		end, _ := metadata.Int(md[KeyEndChar])
		section, _ := metadata.String(md[KeySection])
		chunkType, _ := metadata.String(md[KeyChunkType])
		doc.OriginalDocID = orig
		doc.ChunkMetadata = &ChunkMetadata{
			ChunkIndex:  idx,
			TotalChunks: total,
			ChunkType:   chunkType,
			Section:     section,
			StartChar:   start,
			EndChar:     end,
		}
	}

	for _, k := range recordKeys {
		delete(md, k)
	}
	doc.Metadata = md
	return doc
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// RecordMetadata renders the storage metadata for doc: its classification
// fields plus its metadata map, flattened to primitives.
func (f *Factory) RecordMetadata(doc *Document) map[string]any {
	md := make(map[string]any, len(doc.Metadata)+len(recordKeys))
	maps.Copy(md, doc.Metadata)
	md[KeyTitle] = doc.Title
	md[KeySourceLink] = doc.SourceLink
	md[KeyDocumentType] = string(doc.Type)
	md[KeyStatus] = string(doc.Status)
	md[KeyCreatedAt] = doc.CreatedAt
	md[KeyLanguage] = doc.Language
	if doc.Category != "" {
		md[KeyCategory] = doc.Category
	}
	if len(doc.Topics) > 0 {
		md[KeyTopics] = doc.Topics
	}
	if doc.ImportanceScore != 0 {
		md[KeyImportanceScore] = doc.ImportanceScore
	}
	if cm := doc.ChunkMetadata; cm != nil {
		md[KeyOriginalID] = doc.OriginalDocID
		md[KeyChunkIndex] = cm.ChunkIndex
		md[KeyTotalChunks] = cm.TotalChunks
		md[KeySection] = cm.Section
		md[KeyStartChar] = cm.StartChar
		md[KeyEndChar] = cm.EndChar
		if cm.ChunkType != "" {
			md[KeyChunkType] = cm.ChunkType
		}
	}
	return metadata.Flatten(md)
}
