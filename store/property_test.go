package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: document round-trip through the store preserves chunk order and content.
func TestProperty_DocumentRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("put then get preserves chunks in ordinal order", prop.ForAll(
		func(uriSuffix string, chunkCount int) bool {
			ctx := context.Background()
			s := NewMemoryStore(nil)

			uri := "docs/" + uriSuffix + ".md"
			docID := DocumentIDFor(uri)
			doc := Document{
				ID:          docID,
				SourceURI:   uri,
				ContentHash: ContentHash(uriSuffix),
				Type:        DocTypeText,
				RawContent:  uriSuffix,
			}

			chunks := make([]Chunk, chunkCount)
			for i := 0; i < chunkCount; i++ {
				chunks[i] = Chunk{
					ID:         ChunkIDFor(docID, i),
					DocumentID: docID,
					Ordinal:    i,
					Text:       fmt.Sprintf("chunk %d of %s", i, uriSuffix),
				}
			}

			if _, err := s.PutDocument(ctx, doc, chunks); err != nil {
				t.Logf("PutDocument failed: %v", err)
				return false
			}

			loaded, err := s.ListChunks(ctx, docID)
			if err != nil {
				t.Logf("ListChunks failed: %v", err)
				return false
			}
			if len(loaded) != chunkCount {
				t.Logf("chunk count mismatch: expected %d, got %d", chunkCount, len(loaded))
				return false
			}
			for i, c := range loaded {
				if c.Ordinal != i {
					t.Logf("ordinal mismatch at %d: got %d", i, c.Ordinal)
					return false
				}
				if c.Text != chunks[i].Text {
					t.Logf("text mismatch at %d", i)
					return false
				}
			}
			return true
		},
		gen.Identifier(),   // uriSuffix
		gen.IntRange(0, 8), // chunkCount
	))

	properties.TestingRun(t)
}

// Property: re-putting a source yields monotonically increasing revisions and
// exactly one live document.
func TestProperty_SupersedeMonotonicRevision(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("revision increases by one per put with a single live document", prop.ForAll(
		func(uriSuffix string, puts int) bool {
			ctx := context.Background()
			s := NewMemoryStore(nil)

			uri := "docs/" + uriSuffix + ".md"
			docID := DocumentIDFor(uri)

			for i := 1; i <= puts; i++ {
				content := fmt.Sprintf("content revision %d", i)
				doc := Document{
					ID:          docID,
					SourceURI:   uri,
					ContentHash: ContentHash(content),
					Type:        DocTypeText,
					RawContent:  content,
				}
				chunk := Chunk{ID: ChunkIDFor(docID, 0), DocumentID: docID, Ordinal: 0, Text: content}

				stored, err := s.PutDocument(ctx, doc, []Chunk{chunk})
				if err != nil {
					t.Logf("PutDocument %d failed: %v", i, err)
					return false
				}
				if stored.Revision != i {
					t.Logf("revision mismatch: expected %d, got %d", i, stored.Revision)
					return false
				}
			}

			docs, err := s.ListDocuments(ctx)
			if err != nil {
				t.Logf("ListDocuments failed: %v", err)
				return false
			}
			if len(docs) != 1 {
				t.Logf("live document count mismatch: got %d", len(docs))
				return false
			}
			if docs[0].Revision != puts {
				t.Logf("live revision mismatch: expected %d, got %d", puts, docs[0].Revision)
				return false
			}

			n, err := s.CountChunks(ctx)
			if err != nil || n != 1 {
				t.Logf("chunk count after supersede: %d err=%v", n, err)
				return false
			}
			return true
		},
		gen.Identifier(),   // uriSuffix
		gen.IntRange(1, 6), // puts
	))

	properties.TestingRun(t)
}
