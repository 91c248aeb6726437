package chunker

import (
	"context"
	"slices"
)

// Span is a half-open rune range [Start, End) of the split text.
type Span struct {
	Start int
	End   int
}

// Recursive is a greedy recursive character splitter. It breaks text at the
// coarsest separator present, keeps each separator at the end of its piece,
// recurses into oversized pieces with finer separators, and merges adjacent
// pieces into chunks of at most size runes. Consecutive chunks share a
// suffix/prefix of at most overlap runes made of whole pieces.
//
// Every chunk is an exact substring of the input, so removing the overlap
// prefix of each chunk after the first and concatenating reproduces the input.
type Recursive struct {
	size       int
	overlap    int
	separators [][]rune
}

// NewRecursive returns a Recursive splitter. overlap must be smaller than size.
func NewRecursive(size, overlap int) (*Recursive, error) {
	if err := ValidateConfig(size, overlap); err != nil {
		return nil, err
	}
	seps := make([][]rune, 0, len(DefaultSeparators))
	for _, s := range DefaultSeparators {
		seps = append(seps, []rune(s))
	}
	return &Recursive{size: size, overlap: overlap, separators: seps}, nil
}

// Split returns the chunk texts for text.
func (r *Recursive) Split(_ context.Context, text string) ([]string, error) {
	runes := []rune(text)
	spans := r.Spans(runes)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, string(runes[s.Start:s.End]))
	}
	return out, nil
}

// Spans returns the chunk ranges over runes.
func (r *Recursive) Spans(runes []rune) []Span {
	if len(runes) == 0 {
		return nil
	}
	pieces := r.pieces(runes, 0, len(runes), r.separators)
	return r.merge(pieces)
}

// pieces splits runes[start:end] into contiguous ranges no longer than size.
func (r *Recursive) pieces(runes []rune, start, end int, seps [][]rune) []Span {
	if end-start <= r.size {
		return []Span{{start, end}}
	}

	idx := len(seps) - 1
	for i, sep := range seps {
		if len(sep) == 0 || indexRunes(runes[start:end], sep) >= 0 {
			idx = i
			break
		}
	}
	sep, finer := seps[idx], seps[idx+1:]

	if len(sep) == 0 {
		out := make([]Span, 0, end-start)
		for i := start; i < end; i++ {
			out = append(out, Span{i, i + 1})
		}
		return out
	}

	var out []Span
	pos := start
	for pos < end {
		cut := end
		if j := indexRunes(runes[pos:end], sep); j >= 0 {
			cut = pos + j + len(sep)
		}
		if cut-pos <= r.size {
			out = append(out, Span{pos, cut})
		} else {
			out = append(out, r.pieces(runes, pos, cut, finer)...)
		}
		pos = cut
	}
	return out
}

// merge packs contiguous pieces into chunks, carrying an overlap window of
// trailing pieces into the next chunk.
func (r *Recursive) merge(pieces []Span) []Span {
	var (
		chunks []Span
		window []Span
		total  int
	)
	for _, p := range pieces {
		n := p.End - p.Start
		if total+n > r.size && len(window) > 0 {
			chunks = append(chunks, Span{window[0].Start, window[len(window)-1].End})
			for len(window) > 0 && (total > r.overlap || total+n > r.size) {
				total -= window[0].End - window[0].Start
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if len(window) > 0 {
		chunks = append(chunks, Span{window[0].Start, window[len(window)-1].End})
	}
	return chunks
}

// indexRunes returns the index of the first occurrence of sep in s, or -1.
func indexRunes(s, sep []rune) int {
	n := len(sep)
	for i := 0; i+n <= len(s); i++ {
		if slices.Equal(s[i:i+n], sep) {
			return i
		}
	}
	return -1
}
