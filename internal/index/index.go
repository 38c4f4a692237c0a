// Package index splits transcripts into overlapping passages for retrieval.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// ChunkWriter is the part of the store the indexer needs.
type ChunkWriter interface {
	ReplaceChunks(ctx context.Context, contentID uuid.UUID, chunks []models.ContentChunk) error
}

// Indexer replaces a content record's chunks with a fresh split of its transcript.
type Indexer struct {
	store   ChunkWriter
	size    int
	overlap int
}

func NewIndexer(store ChunkWriter, size, overlap int) *Indexer {
	return &Indexer{store: store, size: size, overlap: overlap}
}

// Index chunks text and replaces any previous chunks. Running it twice on the
// same text leaves the same rows. It returns the number of chunks written.
func (ix *Indexer) Index(ctx context.Context, contentID uuid.UUID, text string) (int, error) {
	parts := Chunk(text, ix.size, ix.overlap)
	chunks := make([]models.ContentChunk, len(parts))
	for i, body := range parts {
		chunks[i] = models.ContentChunk{ContentID: contentID, Seq: i, Body: body}
	}
	if err := ix.store.ReplaceChunks(ctx, contentID, chunks); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}
	return len(chunks), nil
}

// Chunk splits text into passages of size words, each sharing overlap words
// with the previous one.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	step := size - overlap
	var out []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
