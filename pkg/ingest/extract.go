package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/errdefs"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// PDFToText is the poppler tool used for PDF extraction.
const PDFToText = "pdftotext"

// Extractor turns uploaded bytes into plain text by file extension.
type Extractor struct {
	runner CommandRunner
}

// NewExtractor creates an Extractor. A nil runner uses ExecRunner.
func NewExtractor(runner CommandRunner) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{runner: runner}
}

// Supported reports whether filename has an extension Extract can handle.
func (e *Extractor) Supported(filename string) bool {
	switch ext(filename) {
	case ".txt", ".pdf":
		return true
	}
	return false
}

// Extract returns the normalized text of data. Lines are trimmed and the
// result must not be empty.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch ext(filename) {
	case ".txt":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", errdefs.ErrProcessing, filename)
		}
		text = string(data)
	case ".pdf":
		text, err = e.pdf(ctx, data)
		if err != nil {
			return "", fmt.Errorf("%w: extract %s: %w", errdefs.ErrProcessing, filename, err)
		}
	default:
		return "", fmt.Errorf("%w: %q (supported: .txt, .pdf)", errdefs.ErrUnsupportedFile, filename)
	}

	text = normalize(text)
	if text == "" {
		return "", fmt.Errorf("%w: no text extracted from %s", errdefs.ErrProcessing, filename)
	}
	slog.Debug("text extracted", "filename", filename, "content_length", len(text))
	return text, nil
}

func (e *Extractor) pdf(ctx context.Context, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "ragchat-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	out, err := e.runner.Run(ctx, PDFToText, "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func normalize(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
