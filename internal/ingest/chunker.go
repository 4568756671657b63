package ingest

import (
	"strings"
)

const (
	defaultChunkSize    = 2000
	defaultChunkOverlap = 150
)

// PageChunk is one chunker output: a text span, the page it came from, and
// its position in the document's overall chunk sequence.
type PageChunk struct {
	Text          string
	PageNumber    int
	SequenceIndex int
}

// Chunker splits page text into overlapping word-boundary chunks. Chunks
// never span pages, so every chunk maps to exactly one page number.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Non-positive size or overlap fall back to the
// defaults; overlap is capped below size so progress is always made.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// ChunkPages splits all pages into chunks with a document-wide sequence index.
func (c *Chunker) ChunkPages(pages []Page) []PageChunk {
	var chunks []PageChunk
	seq := 0
	for _, p := range pages {
		for _, text := range c.split(p.Text) {
			chunks = append(chunks, PageChunk{
				Text:          text,
				PageNumber:    p.Number,
				SequenceIndex: seq,
			})
			seq++
		}
	}
	return chunks
}

// split breaks text into chunks of roughly c.size characters on word
// boundaries, with consecutive chunks sharing roughly c.overlap trailing
// characters.
func (c *Chunker) split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(words) {
		length := 0
		end := start
		for end < len(words) {
			wordLen := len(words[end])
			if end > start {
				wordLen++ // joining space
			}
			if length+wordLen > c.size && end > start {
				break
			}
			length += wordLen
			end++
		}

		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}

		// Back up far enough to carry ~overlap characters into the next
		// chunk, but always advance past at least one word.
		backed := end
		carried := 0
		for backed > start+1 && carried < c.overlap {
			backed--
			carried += len(words[backed]) + 1
		}
		start = backed
	}
	return chunks
}
