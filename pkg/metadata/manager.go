// Package metadata extracts, merges and validates document metadata.
package metadata

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/barekit/ragchat/pkg/errdefs"
)

// Keys written by Extract.
const (
	KeyLanguage        = "language"
	KeyTopics          = "topics"
	KeyKeywords        = "keywords"
	KeyComplexityScore = "complexity_score"
	KeyContentLength   = "content_length"
	KeyExtractedAt     = "extracted_at"
	KeyCreatedAt       = "created_at"
	KeyUpdatedAt       = "updated_at"
	KeyImportanceScore = "importance_score"
	KeyValidationScore = "validation_score"
)

// Topic associates a topic name with the keywords that reveal it.
type Topic struct {
	Name     string
	Keywords []string
}

// DefaultTopics is the vehicle-domain topic table.
var DefaultTopics = []Topic{
	{Name: "sicherheit", Keywords: []string{"sicherheit", "schutz", "airbag", "gurt", "crash", "unfall", "warnung", "prävention", "notfall", "rettung"}},
	{Name: "technik", Keywords: []string{"motor", "getriebe", "antrieb", "elektronik", "steuerung", "sensor", "system", "diagnose", "komponente", "modul"}},
	{Name: "wartung", Keywords: []string{"wartung", "service", "inspektion", "reparatur", "pflege", "check", "prüfung", "intervall", "werkstatt", "austausch"}},
	{Name: "umwelt", Keywords: []string{"emission", "verbrauch", "co2", "umwelt", "katalysator", "filter", "grenzwert", "abgas", "effizienz", "green"}},
	{Name: "recht", Keywords: []string{"gesetz", "verordnung", "vorschrift", "regelung", "paragraph", "bestimmung", "richtlinie", "zulassung", "pflicht", "norm"}},
}

var (
	defaultIndicators = []string{"der", "die", "das", "und", "ist", "sind", "werden", "fahrzeug", "prüfung", "vorschrift"}

	defaultStopwords = map[string]struct{}{
		"der": {}, "die": {}, "das": {}, "und": {}, "in": {}, "im": {}, "für": {}, "mit": {},
		"bei": {}, "seit": {}, "von": {}, "aus": {}, "nach": {}, "zu": {}, "zur": {}, "zum": {},
	}

	technicalTerms = []string{"abs", "esp", "asv", "tcs", "egr", "dpf", "scr", "obd", "ecu", "can", "lin", "iso", "sae", "din", "ece", "etk"}

	wordPattern     = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
	languagePattern = regexp.MustCompile(`^[a-z]{2}$`)
)

const (
	defaultLanguage   = "de"
	fallbackLanguage  = "en"
	languageThreshold = 3
	maxKeywords       = 10
	fallbackScore     = 0.5
)

// Extracted is the result of Manager.Extract.
type Extracted struct {
	Language        string
	Topics          []string
	Keywords        []string
	ComplexityScore float64
	ContentLength   int
	ExtractedAt     time.Time
}

// Map renders the extraction as a metadata map.
func (e Extracted) Map() map[string]any {
	return map[string]any{
		KeyLanguage:        e.Language,
		KeyTopics:          e.Topics,
		KeyKeywords:        e.Keywords,
		KeyComplexityScore: e.ComplexityScore,
		KeyContentLength:   e.ContentLength,
		KeyExtractedAt:     e.ExtractedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Manager extracts metadata with simple lexical heuristics.
type Manager struct {
	topics []Topic
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTopics replaces the topic table.
func WithTopics(topics []Topic) Option {
	return func(m *Manager) {
		m.topics = topics
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager with the default topic table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		topics: DefaultTopics,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Extract analyses content. It never fails; degenerate input yields neutral
// values.
func (m *Manager) Extract(content string) Extracted {
	lower := strings.ToLower(content)
	e := Extracted{
		Language:        detectLanguage(lower),
		Topics:          m.extractTopics(lower),
		Keywords:        extractKeywords(lower),
		ComplexityScore: complexity(content),
		ContentLength:   len([]rune(content)),
		ExtractedAt:     m.now(),
	}
	slog.Debug("metadata extracted", "content_length", e.ContentLength, "language", e.Language, "topics", len(e.Topics))
	return e
}

func detectLanguage(lower string) string {
	count := 0
	for _, w := range defaultIndicators {
		if strings.Contains(lower, w) {
			count++
		}
	}
	if count >= languageThreshold {
		return defaultLanguage
	}
	return fallbackLanguage
}

func (m *Manager) extractTopics(lower string) []string {
	found := []string{}
	for _, t := range m.topics {
		for _, kw := range t.Keywords {
			if strings.Contains(lower, kw) {
				found = append(found, t.Name)
				break
			}
		}
	}
	return found
}

func extractKeywords(lower string) []string {
	type freq struct {
		word  string
		count int
		first int
	}
	counts := map[string]*freq{}
	for i, w := range wordPattern.FindAllString(lower, -1) {
		if _, stop := defaultStopwords[w]; stop {
			continue
		}
		if f, ok := counts[w]; ok {
			f.count++
			continue
		}
		counts[w] = &freq{word: w, count: 1, first: i}
	}

	all := make([]*freq, 0, len(counts))
	for _, f := range counts {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].first < all[j].first
	})

	n := min(len(all), maxKeywords)
	out := make([]string, n)
	for i := range n {
		out[i] = all[i].word
	}
	return out
}

// complexity combines average sentence length (0.4), average word length
// (0.3) and the number of technical terms (0.3), divided by 10 and clamped to
// [0,1].
func complexity(content string) float64 {
	if strings.TrimSpace(content) == "" {
		return fallbackScore
	}

	sentences := sentencePattern.Split(content, -1)
	words := 0
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}
	avgSentence := float64(words) / float64(len(sentences))

	tokens := wordPattern.FindAllString(content, -1)
	avgWord := 0.0
	if len(tokens) > 0 {
		total := 0
		for _, t := range tokens {
			total += len([]rune(t))
		}
		avgWord = float64(total) / float64(len(tokens))
	}

	lower := strings.ToLower(content)
	special := 0
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			special++
		}
	}

	score := (avgSentence*0.4 + avgWord*0.3 + float64(special)*0.3) / 10
	return clamp01(score)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Merge returns a copy of base updated with next: topics and keywords are
// unioned without duplicates, every other key of next overwrites base and
// updated_at is stamped.
func (m *Manager) Merge(base, next map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(next)+1)
	for k, v := range base {
		merged[k] = v
	}

	for _, key := range []string{KeyTopics, KeyKeywords} {
		nv, ok := next[key]
		if !ok {
			continue
		}
		existing, _ := StringList(merged[key])
		incoming, _ := StringList(nv)
		merged[key] = union(existing, incoming)
	}

	for k, v := range next {
		if k == KeyTopics || k == KeyKeywords {
			continue
		}
		merged[k] = v
	}

	merged[KeyUpdatedAt] = m.now().UTC().Format(time.RFC3339Nano)
	return merged
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Validate checks required fields and value ranges. The returned error wraps
// errdefs.ErrValidation.
func (m *Manager) Validate(md map[string]any) error {
	for _, key := range []string{KeyCreatedAt, KeyContentLength, KeyLanguage} {
		if _, ok := md[key]; !ok {
			return fmt.Errorf("%w: missing required field %q", errdefs.ErrValidation, key)
		}
	}

	switch ts := md[KeyCreatedAt].(type) {
	case time.Time:
	case string:
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("%w: created_at is not an ISO timestamp: %q", errdefs.ErrValidation, ts)
		}
	default:
		return fmt.Errorf("%w: created_at has type %T", errdefs.ErrValidation, ts)
	}

	if n, ok := Int(md[KeyContentLength]); !ok || n < 0 {
		return fmt.Errorf("%w: content_length must be a non-negative integer", errdefs.ErrValidation)
	}
	if _, isString := md[KeyContentLength].(string); isString {
		return fmt.Errorf("%w: content_length must be a non-negative integer", errdefs.ErrValidation)
	}

	lang, ok := md[KeyLanguage].(string)
	if !ok || !languagePattern.MatchString(lang) {
		return fmt.Errorf("%w: language must be a two-letter code", errdefs.ErrValidation)
	}

	for _, key := range []string{KeyTopics, KeyKeywords} {
		v, ok := md[key]
		if !ok {
			continue
		}
		switch v.(type) {
		case []string:
		case []any:
			if _, ok := StringList(v); !ok {
				return fmt.Errorf("%w: %s must be a list of strings", errdefs.ErrValidation, key)
			}
		default:
			return fmt.Errorf("%w: %s must be a list of strings", errdefs.ErrValidation, key)
		}
	}

	for _, key := range []string{KeyImportanceScore, KeyValidationScore, KeyComplexityScore} {
		v, ok := md[key]
		if !ok {
			continue
		}
		f, ok := Float(v)
		if _, isString := v.(string); isString || !ok || f < 0 || f > 1 {
			return fmt.Errorf("%w: %s must be within [0,1]", errdefs.ErrValidation, key)
		}
	}
	return nil
}
