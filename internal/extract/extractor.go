// Package extract turns ingestible files into plain text.
package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrUnsupported is returned for extensions that have no text representation.
var ErrUnsupported = errors.New("unsupported file type")

// Extractor extracts plain text from document files.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes rejects files larger than n bytes. Zero means no limit.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReadFile returns the content of the file at path, refusing files over the
// size limit before reading them.
func (e *Extractor) ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	if e.maxBytes <= 0 {
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return content, nil
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > e.maxBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), e.maxBytes)
	}
	// The file may grow after Stat; never hold more than the limit plus one byte.
	content, err := io.ReadAll(io.LimitReader(f, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(content)) > e.maxBytes {
		return nil, fmt.Errorf("file %s exceeds limit of %d bytes", path, e.maxBytes)
	}
	return content, nil
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if e.maxBytes > 0 && int64(len(content)) > e.maxBytes {
		return "", fmt.Errorf("content is %d bytes, limit is %d", len(content), e.maxBytes)
	}
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractWithCat(content, ext)
	case ".xlsx":
		return extractExcel(content)
	case ".png", ".jpg", ".jpeg", ".gif", ".zip", ".gz", ".exe":
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	default:
		// .txt, .md, .markdown and anything unknown
		return extractPlain(content)
	}
}
