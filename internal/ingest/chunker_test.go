package ingest

import (
	"strings"
	"testing"
)

func TestChunkPages_ShortPageSingleChunk(t *testing.T) {
	c := NewChunker(2000, 150)

	chunks := c.ChunkPages([]Page{{Number: 1, Text: "a short page of text"}})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "a short page of text" {
		t.Errorf("Text = %q", chunks[0].Text)
	}
	if chunks[0].PageNumber != 1 || chunks[0].SequenceIndex != 0 {
		t.Errorf("page/seq = %d/%d, want 1/0", chunks[0].PageNumber, chunks[0].SequenceIndex)
	}
}

func TestChunkPages_SplitsOnWordBoundaries(t *testing.T) {
	c := NewChunker(50, 10)

	text := strings.Repeat("alpha beta gamma delta ", 10)
	chunks := c.ChunkPages([]Page{{Number: 1, Text: text}})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Text) > 50 {
			t.Errorf("chunk %d is %d chars, want <= 50", i, len(ch.Text))
		}
		for _, w := range strings.Fields(ch.Text) {
			switch w {
			case "alpha", "beta", "gamma", "delta":
			default:
				t.Errorf("chunk %d contains split word %q", i, w)
			}
		}
	}
}

func TestChunkPages_OverlapCarriesTrailingWords(t *testing.T) {
	c := NewChunker(50, 15)

	text := strings.Repeat("one two three four five six ", 8)
	chunks := c.ChunkPages([]Page{{Number: 1, Text: text}})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		curWords := strings.Fields(chunks[i].Text)
		if prevWords[len(prevWords)-1] == curWords[0] || contains(prevWords, curWords[0]) {
			continue
		}
		t.Errorf("chunk %d does not overlap with its predecessor", i)
	}
}

func contains(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func TestChunkPages_SequenceSpansPages(t *testing.T) {
	c := NewChunker(2000, 150)

	chunks := c.ChunkPages([]Page{
		{Number: 1, Text: "first page"},
		{Number: 3, Text: "third page, second had no text"},
	})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].SequenceIndex != 0 || chunks[1].SequenceIndex != 1 {
		t.Errorf("sequence indexes = %d, %d; want 0, 1", chunks[0].SequenceIndex, chunks[1].SequenceIndex)
	}
	if chunks[1].PageNumber != 3 {
		t.Errorf("PageNumber = %d, want 3", chunks[1].PageNumber)
	}
}

func TestChunkPages_EmptyPageProducesNothing(t *testing.T) {
	c := NewChunker(2000, 150)

	chunks := c.ChunkPages([]Page{{Number: 1, Text: "   "}})
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for whitespace page, want 0", len(chunks))
	}
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(0, -1)
	if c.size != defaultChunkSize || c.overlap != defaultChunkOverlap {
		t.Errorf("got size/overlap %d/%d, want %d/%d", c.size, c.overlap, defaultChunkSize, defaultChunkOverlap)
	}

	// Overlap must stay below size or splitting could never advance.
	c = NewChunker(100, 200)
	if c.overlap >= c.size {
		t.Errorf("overlap %d not capped below size %d", c.overlap, c.size)
	}
}
