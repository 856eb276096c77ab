// Package ingest turns uploaded files into stored documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/trace"
)

const (
	DefaultMaxFileSize = 10 << 20
	DefaultConcurrency = 4

	KeyOriginalFilename = "original_filename"
	KeyFileSize         = "file_size"
	KeyUploadTimestamp  = "upload_timestamp"
)

// DefaultExtensions are the extensions accepted when none are configured.
var DefaultExtensions = []string{".pdf", ".txt"}

// Upload is one file handed in for ingestion.
type Upload struct {
	Filename string
	Data     []byte
	// Size is the declared size; zero means len(Data).
	Size int64
	// ID fixes the document id. A stored document with the same id is
	// replaced. Empty means a new random id.
	ID string
}

func (u Upload) size() int64 {
	if u.Size > 0 {
		return u.Size
	}
	return int64(len(u.Data))
}

// Metadata describes the documents created from uploads. SourceLink is
// required.
type Metadata struct {
	SourceLink   string
	Title        string
	DocumentType string
	Language     string
	Category     string
	Topics       []string
	Additional   map[string]any
}

// Store is where ingested documents go.
type Store interface {
	AddDocument(ctx context.Context, doc *document.Document) error
	UpdateDocument(ctx context.Context, id string, doc *document.Document) error
}

// Service validates, extracts and stores uploads.
type Service struct {
	store       Store
	factory     *document.Factory
	extractor   *Extractor
	extensions  []string
	maxFileSize int64
	concurrency int
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor replaces the default Extractor.
func WithExtractor(e *Extractor) Option {
	return func(s *Service) {
		s.extractor = e
	}
}

// WithFactory sets the document factory.
func WithFactory(f *document.Factory) Option {
	return func(s *Service) {
		s.factory = f
	}
}

// WithAllowedExtensions restricts uploads to exts (with leading dot).
func WithAllowedExtensions(exts ...string) Option {
	return func(s *Service) {
		if len(exts) == 0 {
			return
		}
		s.extensions = make([]string, len(exts))
		for i, e := range exts {
			s.extensions[i] = strings.ToLower(e)
		}
	}
}

// WithMaxFileSize sets the upload size limit in bytes.
func WithMaxFileSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithConcurrency bounds ProcessMultiple.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates an upload Service storing into store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		factory:     document.NewFactory(),
		extractor:   NewExtractor(nil),
		extensions:  slices.Clone(DefaultExtensions),
		maxFileSize: DefaultMaxFileSize,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accepts reports whether filename has an allowed extension.
func (s *Service) Accepts(filename string) bool {
	return slices.Contains(s.extensions, ext(filename))
}

// ProcessUpload stores one upload and returns the created document. On
// failure after the document was created it is returned with status failed
// alongside the error.
func (s *Service) ProcessUpload(ctx context.Context, up Upload, md Metadata) (*document.Document, error) {
	var doc *document.Document
	err := trace.Run(ctx, "ingest.process_upload", func(ctx context.Context) error {
		if err := s.validate(up, md); err != nil {
			return err
		}
		doc = s.create(up, md)

		content, err := s.extractor.Extract(ctx, up.Filename, up.Data)
		if err != nil {
			doc.Status = document.StatusFailed
			return err
		}
		doc.UpdateContent(content)
		if up.ID != "" {
			return s.store.UpdateDocument(ctx, up.ID, doc)
		}
		return s.store.AddDocument(ctx, doc)
	}, "filename", up.Filename, "file_size", up.size())
	if err != nil {
		return doc, fmt.Errorf("%w: %s: %w", errdefs.ErrUpload, up.Filename, err)
	}

	slog.Info("upload processed", "document_id", doc.ID, "filename", up.Filename)
	return doc, nil
}

// ProcessMultiple ingests uploads concurrently with shared metadata. It
// returns the documents stored successfully, in input order, and one joined
// error naming every failed file.
func (s *Service) ProcessMultiple(ctx context.Context, uploads []Upload, md Metadata) ([]*document.Document, error) {
	docs := make([]*document.Document, len(uploads))
	errs := make([]error, len(uploads))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, up := range uploads {
		g.Go(func() error {
			doc, err := s.ProcessUpload(ctx, up, md)
			if err != nil {
				errs[i] = err
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*document.Document, 0, len(uploads))
	failed := 0
	for i, doc := range docs {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, doc)
	}
	if failed > 0 {
		return out, fmt.Errorf("%d of %d uploads failed: %w", failed, len(uploads), errors.Join(errs...))
	}
	return out, nil
}

func (s *Service) validate(up Upload, md Metadata) error {
	if size := up.size(); size > s.maxFileSize {
		return fmt.Errorf("%w: file too large (%d bytes, maximum %d)", errdefs.ErrValidation, size, s.maxFileSize)
	}
	if !s.Accepts(up.Filename) {
		return fmt.Errorf("%w: extension %q not allowed (allowed: %s)", errdefs.ErrUnsupportedFile, ext(up.Filename), strings.Join(s.extensions, ", "))
	}
	return document.ValidateSourceLink(md.SourceLink)
}

func (s *Service) create(up Upload, md Metadata) *document.Document {
	title := md.Title
	if title == "" {
		title = filepath.Base(up.Filename)
	}

	extra := map[string]any{
		KeyOriginalFilename: filepath.Base(up.Filename),
		KeyFileSize:         up.size(),
		KeyUploadTimestamp:  s.now().UTC().Format(time.RFC3339),
	}
	if md.Language != "" {
		extra[document.KeyLanguage] = md.Language
	}
	if md.Category != "" {
		extra[document.KeyCategory] = md.Category
	}
	if len(md.Topics) > 0 {
		extra[document.KeyTopics] = md.Topics
	}
	for k, v := range md.Additional {
		extra[k] = v
	}

	docType := md.DocumentType
	if docType == "" {
		docType = string(document.TypeOther)
	}
	id := up.ID
	if id == "" {
		id = uuid.NewString()
	}
	return s.factory.CreateDocument(id, title, "", md.SourceLink, docType, extra)
}
