// Package chunker splits extracted document text into overlapping spans sized for embedding.
// All sizes are in runes.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

var ErrEmptyDocument = &ragErrors.Error{Kind: ragErrors.KindInput, Code: ragErrors.CodeEmptyDocument}

// Span is one chunk of the input. Start and End are rune offsets, End exclusive.
type Span struct {
	Text  string
	Start int
	End   int
}

type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.size = size }
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// WithTolerance sets how far before the size limit a natural break is searched for.
func WithTolerance(tolerance int) Option {
	return func(c *Chunker) { c.tolerance = tolerance }
}

func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:      config.ChunkSize,
		overlap:   config.ChunkOverlap,
		tolerance: config.ChunkTolerance,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("chunker: overlap %d must be in [0, %d)", c.overlap, c.size)
	}
	if c.tolerance < 0 || c.tolerance >= c.size {
		return nil, fmt.Errorf("chunker: tolerance %d must be in [0, %d)", c.tolerance, c.size)
	}
	return c, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split covers every rune of text with spans of at most size runes. Consecutive spans share
// exactly overlap runes and the last span ends at the end of the text.
func (c *Chunker) Split(text string) ([]Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	runes := []rune(text)
	n := len(runes)
	var spans []Span

	start := 0
	for {
		if n-start <= c.size {
			spans = append(spans, Span{Text: string(runes[start:n]), Start: start, End: n})
			return spans, nil
		}

		limit := start + c.size
		cut := c.findBreak(runes, start, limit)
		spans = append(spans, Span{Text: string(runes[start:cut]), Start: start, End: cut})
		start = cut - c.overlap
	}
}

// breaks in preference order, each tested on the runes just before a candidate cut
var breaks = []func(r []rune, cut, start int) bool{
	paragraphBreak,
	sentenceBreak,
	whitespaceBreak,
}

// findBreak returns the cut position for a span starting at start. The cut must leave the next
// span starting after start, so it never falls at or before start+overlap.
func (c *Chunker) findBreak(runes []rune, start, limit int) int {
	low := limit - c.tolerance
	if floor := start + c.overlap + 1; low < floor {
		low = floor
	}
	for _, isBreak := range breaks {
		for cut := limit; cut >= low; cut-- {
			if isBreak(runes, cut, start) {
				return cut
			}
		}
	}
	return limit
}

func paragraphBreak(r []rune, cut, start int) bool {
	return cut-2 >= start && r[cut-1] == '\n' && r[cut-2] == '\n'
}

func sentenceBreak(r []rune, cut, start int) bool {
	if cut-2 < start || !unicode.IsSpace(r[cut-1]) {
		return false
	}
	switch r[cut-2] {
	case '.', '!', '?':
		return true
	}
	return false
}

func whitespaceBreak(r []rune, cut, start int) bool {
	return cut-1 >= start && unicode.IsSpace(r[cut-1])
}
