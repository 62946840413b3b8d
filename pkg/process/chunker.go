package process

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"jw-notices/pkg/models"
)

// Chunk is one retrieval-sized piece of a notice's Markdown.
type Chunk struct {
	Content          string   // Chunk text, prefixed with its parent headings
	HeadingHierarchy []string // Headings found in the chunk, outermost first
	TokenCount       int
}

// ChunkerConfig holds chunk sizes in tokens.
type ChunkerConfig struct {
	MaxChunkSize int // Chunks above this are split again by the recursive splitter
	ChunkOverlap int // Overlap carried between recursive splits
}

// DefaultChunkerConfig returns the default chunk sizes.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChunkSize: 512,
		ChunkOverlap: 50,
	}
}

// ChunkMarkdown splits markdown by headings (keeping the heading path on each chunk) and
// re-splits any section that is still larger than MaxChunkSize tokens.
func ChunkMarkdown(markdown string, cfg ChunkerConfig) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}
	if cfg.MaxChunkSize <= 0 {
		cfg = DefaultChunkerConfig()
	}

	recursiveSplitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(CountTokens),
	)

	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(recursiveSplitter),
		textsplitter.WithLenFunc(CountTokens),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content:          part,
			HeadingHierarchy: extractHeadingHierarchy(part),
			TokenCount:       CountTokens(part),
		})
	}

	return chunks, nil
}

// ChunkNotice chunks a notice's Markdown into chunks.jsonl records
func ChunkNotice(meta models.NoticeMetadata, markdown, fetchedAt string, cfg ChunkerConfig) ([]models.ChunkJSONL, error) {
	chunks, err := ChunkMarkdown(markdown, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChunkJSONL, 0, len(chunks))
	for i, c := range chunks {
		out = append(out, models.ChunkJSONL{
			NoticeID:         meta.ID,
			ChunkIndex:       i,
			Content:          c.Content,
			HeadingHierarchy: c.HeadingHierarchy,
			TokenCount:       c.TokenCount,
			NoticeTitle:      meta.Title,
			FetchedAt:        fetchedAt,
		})
	}
	return out, nil
}

// extractHeadingHierarchy returns the headings inside a chunk, or nil when there are none.
func extractHeadingHierarchy(content string) []string {
	headings := ExtractHeadings([]byte(content))
	if len(headings) == 0 {
		return nil
	}
	return headings
}
