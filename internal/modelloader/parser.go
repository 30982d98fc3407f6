package modelloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docworker/ingestworker/internal/storage"
)

// ContentIndexEntry describes one extracted layout element (figure,
// table, or formula) in a per-paper content_index.json. The layout
// detection producing these entries lives behind the Parser boundary;
// this type only fixes the artifact's shape.
type ContentIndexEntry struct {
	Type          string     `json:"type"`
	ID            int        `json:"id"`
	Page          int        `json:"page"`
	BBox          [4]float64 `json:"bbox"`
	ImagePath     string     `json:"image_path"`
	ContextMarker string     `json:"context_marker"`
}

// DefaultParser is a minimal stand-in for a real OCR/layout-detection
// parser; extraction quality is not this package's contract, only the
// interface boundary and the upload side effect are. It treats
// form-feed (0x0C) bytes as page breaks when present (the convention
// many text extractors emit) and otherwise treats the whole document
// as a single page, wrapping each page in a `[PAGE][n][PAGE]` marker.
type DefaultParser struct {
	storage storage.Backend
}

// NewDefaultParser builds a DefaultParser bound to backend.
func NewDefaultParser(backend storage.Backend) Parser {
	return &DefaultParser{storage: backend}
}

// SetStorage implements Parser.
func (p *DefaultParser) SetStorage(backend storage.Backend) { p.storage = backend }

// Parse implements Parser: reads localPDFPath, synthesizes page-marked
// text, and uploads text.txt plus an (empty, since layout detection is
// out of scope) content_index.json under stem+"/" in the preprocessed
// bucket.
func (p *DefaultParser) Parse(ctx context.Context, localPDFPath, tempDir, stem string) (string, error) {
	raw, err := os.ReadFile(localPDFPath)
	if err != nil {
		return "", fmt.Errorf("parser: read %s: %w", localPDFPath, err)
	}

	pages := splitIntoPages(raw)
	var sb strings.Builder
	for i, page := range pages {
		sb.WriteString("[PAGE][")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("][PAGE]")
		sb.WriteString(page)
	}
	text := sb.String()

	textPath := filepath.Join(tempDir, "text.txt")
	if err := os.WriteFile(textPath, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("parser: write text.txt: %w", err)
	}
	if err := p.storage.Upload(ctx, textPath, stem+"/text.txt", ""); err != nil {
		return "", fmt.Errorf("parser: upload text.txt: %w", err)
	}

	index := []ContentIndexEntry{}
	indexBytes, err := json.Marshal(index)
	if err != nil {
		return "", fmt.Errorf("parser: marshal content_index.json: %w", err)
	}
	indexPath := filepath.Join(tempDir, "content_index.json")
	if err := os.WriteFile(indexPath, indexBytes, 0o644); err != nil {
		return "", fmt.Errorf("parser: write content_index.json: %w", err)
	}
	if err := p.storage.Upload(ctx, indexPath, stem+"/content_index.json", ""); err != nil {
		return "", fmt.Errorf("parser: upload content_index.json: %w", err)
	}

	return text, nil
}

func splitIntoPages(raw []byte) []string {
	text := string(raw)
	if strings.IndexByte(text, 0x0C) < 0 {
		return []string{text}
	}
	return strings.Split(text, "\f")
}
