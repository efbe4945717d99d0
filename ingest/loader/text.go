package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/store"
)

// TextLoader loads plain text files as a single text source.
type TextLoader struct{}

// NewTextLoader creates a TextLoader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load reads a text file and returns it as one source. The file path is the
// source URI, so the same file always maps to the same document.
func (l *TextLoader) Load(ctx context.Context, path string) ([]ingest.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}

	return []ingest.Source{{
		SourceURI: path,
		Type:      store.DocTypeText,
		Content:   string(data),
	}}, nil
}

// SupportedTypes returns the extensions handled by TextLoader.
func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt"}
}
