package core

import (
	"fmt"
	"iter"
	"strings"
)

// Chunker splits text into overlapping windows of whitespace-delimited tokens.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) step() int {
	return max(1, c.size-c.overlap)
}

// Chunks yields windows starting every size-overlap tokens until the token
// stream is exhausted; the last window may be shorter than size. The sequence
// can be ranged over more than once.
func (c *Chunker) Chunks(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		tokens := strings.Fields(text)
		step := c.step()
		for i := 0; i < len(tokens); i += step {
			end := min(i+c.size, len(tokens))
			if !yield(strings.Join(tokens[i:end], " ")) {
				return
			}
		}
	}
}
