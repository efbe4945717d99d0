// Package loader bridges files on disk and the ingest.Source records the
// engine ingests.
//
// Each loader reads one format and produces sources with stable URIs, so
// re-running ingestion over the same tree dedupes by content hash instead of
// re-indexing. Formats out of the box:
//   - Plain text (.txt) and Markdown (.md, .markdown) → one text source
//   - CSV (.csv) → one csv_row source (rows are split during chunking)
//   - JSON / JSONL (.json, .jsonl) → explicit source records
//
// Use Registry to route by file extension, or LoadDir to walk a corpus
// directory:
//
//	registry := loader.NewRegistry()
//	sources, failures, err := registry.LoadDir(ctx, "corpus/")
//
// Custom loaders can be registered for any extension:
//
//	registry.Register(".xml", myXMLLoader)
package loader
