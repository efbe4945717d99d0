package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/ragflow/ingest"
)

// JSONLoader loads explicit source records from JSON and JSONL files.
//
// A .json file holds a single record or an array of records; a .jsonl file
// holds one record per line. Each record maps directly onto ingest.Source:
//
//	{"source_uri": "kb://faq/42", "type": "text", "content": "..."}
//
// Records should carry their own source_uri so re-ingestion stays stable;
// records without one derive "path#index" as a fallback. An empty type is
// ingested as text.
type JSONLoader struct{}

// NewJSONLoader creates a JSONLoader.
func NewJSONLoader() *JSONLoader {
	return &JSONLoader{}
}

// Load reads a JSON or JSONL file and returns its source records.
func (l *JSONLoader) Load(ctx context.Context, path string) ([]ingest.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.ToLower(filepath.Ext(path)) == ".jsonl" {
		return l.loadJSONL(path)
	}
	return l.loadJSON(path)
}

// loadJSON handles .json files (single record or array of records).
func (l *JSONLoader) loadJSON(path string) ([]ingest.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []ingest.Source
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, fmt.Errorf("json loader: parsing array in %s: %w", path, err)
		}
		return l.fillURIs(path, records), nil
	}

	var record ingest.Source
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("json loader: parsing record in %s: %w", path, err)
	}
	return l.fillURIs(path, []ingest.Source{record}), nil
}

// loadJSONL handles .jsonl files (one record per line, blank lines skipped).
func (l *JSONLoader) loadJSONL(path string) ([]ingest.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl loader: %w", err)
	}
	defer f.Close()

	var records []ingest.Source
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record ingest.Source
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("jsonl loader: line %d in %s: %w", lineNum, path, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl loader: reading %s: %w", path, err)
	}

	return l.fillURIs(path, records), nil
}

// fillURIs derives a path-based URI for records that omit source_uri.
func (l *JSONLoader) fillURIs(path string, records []ingest.Source) []ingest.Source {
	for i := range records {
		if records[i].SourceURI == "" {
			records[i].SourceURI = fmt.Sprintf("%s#%d", path, i)
		}
	}
	return records
}

// SupportedTypes returns the extensions handled by JSONLoader.
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
