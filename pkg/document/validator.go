package document

import (
	"fmt"
	"net/url"
	"regexp"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/errdefs"
)

const (
	MinTitleLength   = 3
	MaxTitleLength   = 200
	MinContentLength = 10
	MaxContentLength = 1_000_000
)

var (
	idPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
)

// Validator checks document fields before they are stored or returned.
type Validator struct {
	strict bool
}

// NewValidator creates a Validator. Strict mode also checks topics and
// scores.
func NewValidator(strict bool) *Validator {
	return &Validator{strict: strict}
}

// Validate returns the first violated rule, wrapped in errdefs.ErrValidation.
func (v *Validator) Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", errdefs.ErrValidation)
	}
	if !idPattern.MatchString(doc.ID) {
		return fmt.Errorf("%w: invalid id %q", errdefs.ErrValidation, doc.ID)
	}
	if n := utf8.RuneCountInString(doc.Title); n < MinTitleLength || n > MaxTitleLength {
		return fmt.Errorf("%w: title length %d out of range", errdefs.ErrValidation, n)
	}
	if n := utf8.RuneCountInString(doc.Content); n < MinContentLength || n > MaxContentLength {
		return fmt.Errorf("%w: content length %d out of range", errdefs.ErrValidation, n)
	}
	if err := ValidateSourceLink(doc.SourceLink); err != nil {
		return err
	}
	if !languagePattern.MatchString(doc.Language) {
		return fmt.Errorf("%w: invalid language %q", errdefs.ErrValidation, doc.Language)
	}
	if _, ok := ParseStatus(string(doc.Status)); !ok {
		return fmt.Errorf("%w: invalid status %q", errdefs.ErrValidation, doc.Status)
	}
	if doc.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at not set", errdefs.ErrValidation)
	}

	if !v.strict {
		return nil
	}
	for _, t := range doc.Topics {
		if n := utf8.RuneCountInString(t); n < 2 || n > 50 {
			return fmt.Errorf("%w: topic %q length out of range", errdefs.ErrValidation, t)
		}
	}
	if doc.ImportanceScore < 0 || doc.ImportanceScore > 1 {
		return fmt.Errorf("%w: importance_score %v not in [0,1]", errdefs.ErrValidation, doc.ImportanceScore)
	}
	if doc.ValidationScore < 0 || doc.ValidationScore > 1 {
		return fmt.Errorf("%w: validation_score %v not in [0,1]", errdefs.ErrValidation, doc.ValidationScore)
	}
	return nil
}

// ValidateSourceLink requires an absolute http or https URL with a host.
func ValidateSourceLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("%w: source link: %w", errdefs.ErrValidation, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: source link %q must be an absolute http(s) URL", errdefs.ErrValidation, link)
	}
	return nil
}
