package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/store"
)

// MarkdownLoader loads Markdown files as a single text source.
//
// A leading YAML front matter block is stripped: it is authoring metadata,
// not retrieval content, and indexing it pollutes lexical statistics with
// tag and date tokens. Heading structure is left intact; the semantic
// chunker already splits on the blank lines that surround headings.
type MarkdownLoader struct{}

// NewMarkdownLoader creates a MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

// Load reads a Markdown file and returns it as one text source.
func (l *MarkdownLoader) Load(ctx context.Context, path string) ([]ingest.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}

	return []ingest.Source{{
		SourceURI: path,
		Type:      store.DocTypeText,
		Content:   stripFrontMatter(string(data)),
	}}, nil
}

// stripFrontMatter removes a leading front matter block delimited by "---"
// lines. Content is returned unchanged when no complete block is present.
func stripFrontMatter(content string) string {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r\n") != "---" {
		return content
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r\n") == "---" {
			return strings.Join(lines[i+1:], "")
		}
	}
	return content
}

// SupportedTypes returns the extensions handled by MarkdownLoader.
func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}
