package retrieval

import (
	"fmt"
	"log/slog"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

// SearchOptions controls how raw hits become documents.
type SearchOptions struct {
	// IncludeScores stamps search_score (1 - distance) and distance into
	// each document's metadata.
	IncludeScores bool
	// MaxDistance drops hits farther than this cosine distance. Nil keeps
	// every hit.
	MaxDistance *float64
}

// Processor turns vector store results into validated documents.
type Processor struct {
	factory   *document.Factory
	validator *document.Validator
}

// NewProcessor creates a Processor.
func NewProcessor(factory *document.Factory, validator *document.Validator) *Processor {
	return &Processor{factory: factory, validator: validator}
}

// ProcessSearchResults converts hits in the order the store returned them.
// Hits that fail validation are skipped with a warning.
func (p *Processor) ProcessSearchResults(raw *vectorstore.QueryResult, opts SearchOptions) ([]*document.Document, error) {
	if err := checkStructure(raw); err != nil {
		return nil, err
	}

	docs := make([]*document.Document, 0, raw.Len())
	if raw.Len() == 0 {
		return docs, nil
	}

	var distances []float64
	if len(raw.Distances) > 0 {
		distances = raw.Distances[0]
	}

	for i, id := range raw.IDs[0] {
		hasDistance := distances != nil
		var dist float64
		if hasDistance {
			dist = distances[i]
			if opts.MaxDistance != nil && dist > *opts.MaxDistance {
				continue
			}
		}

		doc := p.factory.FromRecord(id, raw.Documents[0][i], raw.Metadatas[0][i])
		if err := p.validator.Validate(doc); err != nil {
			slog.Warn("skipping invalid search result", "document_id", id, "error", err)
			continue
		}

		if opts.IncludeScores && hasDistance {
			doc.Metadata[document.KeySearchScore] = 1 - dist
			doc.Metadata[document.KeyDistance] = dist
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ProcessChunkResults rebuilds document originalID from its chunk records.
func (p *Processor) ProcessChunkResults(raw *vectorstore.QueryResult, originalID string) (*document.Document, error) {
	if err := checkStructure(raw); err != nil {
		return nil, err
	}

	chunks := make([]*document.Document, 0, raw.Len())
	for i := 0; i < raw.Len(); i++ {
		chunks = append(chunks, p.factory.FromRecord(raw.IDs[0][i], raw.Documents[0][i], raw.Metadatas[0][i]))
	}

	doc, err := p.factory.ReconstructFromChunks(chunks, originalID)
	if err != nil {
		return nil, err
	}
	if err := p.validator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: reconstructed document %s is invalid: %w", errdefs.ErrProcessing, originalID, err)
	}
	return doc, nil
}

// checkStructure requires the parallel arrays to be present with matching
// lengths. Distances may be absent.
func checkStructure(raw *vectorstore.QueryResult) error {
	if raw == nil {
		return fmt.Errorf("%w: nil query result", errdefs.ErrProcessing)
	}
	if len(raw.IDs) == 0 || len(raw.Documents) == 0 || len(raw.Metadatas) == 0 {
		return fmt.Errorf("%w: query result is missing ids, documents or metadatas", errdefs.ErrProcessing)
	}
	if len(raw.Documents) != len(raw.IDs) || len(raw.Metadatas) != len(raw.IDs) {
		return fmt.Errorf("%w: query result lists have different lengths", errdefs.ErrProcessing)
	}
	if len(raw.Distances) > 0 && len(raw.Distances) != len(raw.IDs) {
		return fmt.Errorf("%w: query result distances have a different length", errdefs.ErrProcessing)
	}

	for q := range raw.IDs {
		n := len(raw.IDs[q])
		if len(raw.Documents[q]) != n || len(raw.Metadatas[q]) != n {
			return fmt.Errorf("%w: query result %d has mismatched hit counts", errdefs.ErrProcessing, q)
		}
		if len(raw.Distances) > 0 && len(raw.Distances[q]) != n {
			return fmt.Errorf("%w: query result %d has mismatched distance count", errdefs.ErrProcessing, q)
		}
	}
	return nil
}
