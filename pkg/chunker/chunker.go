// Package chunker splits document text into overlapping chunks that prefer
// paragraph and sentence boundaries.
package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/errdefs"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultMinChunkSize = 100
	MaxDocumentLength   = 1_000_000
)

// Separators are tried in order; the empty separator cuts between runes.
var Separators = []string{"\n\n", "\n", ". ", "? ", "! ", " ", ""}

var (
	whitespacePattern = regexp.MustCompile(`[\s\p{Z}]+`)
	disallowedPattern = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s.,!?-]`)

	errInvalidUTF8 = errors.New("text is not valid UTF-8")

	// ErrTooShort and ErrTooLong are returned by ValidateDocument wrapped
	// together with errdefs.ErrValidation.
	ErrTooShort = errors.New("document too short")
	ErrTooLong  = errors.New("document too long")
)

// Chunk is a piece of cleaned text. Start and End are rune offsets into the
// cleaned text, End exclusive.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// Chunker splits text. It holds no mutable state and is safe for concurrent
// use.
type Chunker struct {
	chunkSize    int
	overlap      int
	minChunkSize int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the soft maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinChunkSize sets the length below which chunks are discarded.
func WithMinChunkSize(size int) Option {
	return func(c *Chunker) {
		if size >= 0 {
			c.minChunkSize = size
		}
	}
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:    DefaultChunkSize,
		overlap:      DefaultChunkOverlap,
		minChunkSize: DefaultMinChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap doesn't exceed chunk size
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// MinChunkSize returns the configured minimum chunk size.
func (c *Chunker) MinChunkSize() int { return c.minChunkSize }

// CleanText collapses whitespace runs to a single space and removes
// characters other than letters, digits, underscores, whitespace and basic
// punctuation.
func CleanText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", errInvalidUTF8
	}
	text = disallowedPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}

// Chunk returns only the chunk texts of Split.
func (c *Chunker) Chunk(text string) []string {
	chunks := c.Split(text)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

// Split cleans text and splits it. Chunks shorter than the minimum size are
// dropped after splitting. If cleaning fails the original text is returned
// as a single chunk.
func (c *Chunker) Split(text string) []Chunk {
	cleaned, err := CleanText(text)
	if err != nil {
		slog.Warn("text cleaning failed, returning original text", "error", err, "length", len(text))
		return []Chunk{{Text: text, Start: 0, End: utf8.RuneCountInString(text)}}
	}

	runes := []rune(cleaned)
	if len(runes) == 0 {
		return nil
	}

	spans := c.split(runes, span{0, len(runes)}, Separators)

	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		sp = sp.trim(runes)
		if sp.len() == 0 || sp.len() < c.minChunkSize {
			continue
		}
		chunks = append(chunks, Chunk{Text: string(runes[sp.start:sp.end]), Start: sp.start, End: sp.end})
	}

	slog.Debug("text split", "length", len(runes), "chunks", len(chunks), "dropped", len(spans)-len(chunks))
	return chunks
}

// ValidateDocument checks that text is long enough to be worth indexing and
// not larger than MaxDocumentLength.
func (c *Chunker) ValidateDocument(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < c.minChunkSize {
		return fmt.Errorf("%w: %w: %d characters, need at least %d", errdefs.ErrValidation, ErrTooShort, n, c.minChunkSize)
	}
	if n > MaxDocumentLength {
		return fmt.Errorf("%w: %w: %d characters, limit is %d", errdefs.ErrValidation, ErrTooLong, n, MaxDocumentLength)
	}
	return nil
}

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

func (s span) trim(r []rune) span {
	for s.start < s.end && unicode.IsSpace(r[s.start]) {
		s.start++
	}
	for s.end > s.start && unicode.IsSpace(r[s.end-1]) {
		s.end--
	}
	return s
}

// split recursively divides whole using the first separator found inside it.
// Pieces that still exceed the chunk size are split again with the
// remaining separators; pieces that fit are merged back into chunks.
func (c *Chunker) split(r []rune, whole span, seps []string) []span {
	if whole.len() <= c.chunkSize {
		return []span{whole}
	}

	sep, rest := "", []string(nil)
	for i, s := range seps {
		if s == "" || indexRunes(r, whole, []rune(s)) >= 0 {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var out, fitting []span
	for _, p := range pieces(r, whole, []rune(sep)) {
		if p.len() <= c.chunkSize {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, c.merge(fitting)...)
			fitting = nil
		}
		out = append(out, c.split(r, p, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, c.merge(fitting)...)
	}
	return out
}

// merge greedily joins contiguous pieces into spans no longer than the chunk
// size. Each new span starts with the trailing pieces of the previous one
// that fit in the overlap.
func (c *Chunker) merge(ps []span) []span {
	var out, window []span
	total := 0
	for _, p := range ps {
		l := p.len()
		if total+l > c.chunkSize && len(window) > 0 {
			out = append(out, span{window[0].start, window[len(window)-1].end})
			for total > c.overlap || (total+l > c.chunkSize && total > 0) {
				total -= window[0].len()
				window = window[1:]
			}
		}
		window = append(window, p)
		total += l
	}
	if len(window) > 0 {
		out = append(out, span{window[0].start, window[len(window)-1].end})
	}
	return out
}

// pieces cuts whole after every occurrence of sep so that the pieces are
// contiguous and cover whole. An empty sep yields single runes.
func pieces(r []rune, whole span, sep []rune) []span {
	if len(sep) == 0 {
		out := make([]span, 0, whole.len())
		for i := whole.start; i < whole.end; i++ {
			out = append(out, span{i, i + 1})
		}
		return out
	}

	var out []span
	start := whole.start
	for start < whole.end {
		i := indexRunes(r, span{start, whole.end}, sep)
		if i < 0 {
			break
		}
		end := i + len(sep)
		out = append(out, span{start, end})
		start = end
	}
	if start < whole.end {
		out = append(out, span{start, whole.end})
	}
	return out
}

// indexRunes returns the absolute index of the first occurrence of sep in
// r[in.start:in.end], or -1.
func indexRunes(r []rune, in span, sep []rune) int {
	n := len(sep)
	for i := in.start; i+n <= in.end; i++ {
		match := true
		for j := 0; j < n; j++ {
			if r[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
