// Package chunk splits extracted document text into overlapping segments
// sized for embedding and retrieval.
package chunk

import "strings"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultSeparator    = " "
)

// Chunk is one bounded segment of document text. Ordinal is the emission
// order within the source document.
type Chunk struct {
	Text        string
	Ordinal     int
	Fingerprint string
}

// Splitter joins separator-delimited pieces into chunks of at most ChunkSize
// characters, duplicating roughly Overlap trailing characters into the next
// chunk so retrieval keeps cross-boundary context. Splitting is fully
// deterministic.
type Splitter struct {
	ChunkSize int
	Overlap   int
	Separator string
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{
		ChunkSize: size,
		Overlap:   overlap,
		Separator: DefaultSeparator,
	}
}

// Split returns the chunk sequence for text, tagging each chunk with the
// source fingerprint. Empty or whitespace-only text yields no chunks.
func (s *Splitter) Split(text, fp string) []Chunk {
	sep := s.Separator
	if sep == "" {
		sep = DefaultSeparator
	}

	var pieces []string
	for _, p := range strings.Split(text, sep) {
		if p = strings.TrimSpace(p); p != "" {
			pieces = append(pieces, p)
		}
	}
	if len(pieces) == 0 {
		return nil
	}

	sepLen := len([]rune(sep))
	var chunks []Chunk
	var current []string
	currentLen := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:        strings.Join(current, sep),
			Ordinal:     len(chunks),
			Fingerprint: fp,
		})
	}

	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if currentLen > 0 && currentLen+sepLen+pieceLen > s.ChunkSize {
			emit()
			current, currentLen = s.carryOverlap(current, sep, sepLen)
			// Shrink the carried tail until the new piece fits.
			for currentLen > 0 && currentLen+sepLen+pieceLen > s.ChunkSize {
				dropped := len([]rune(current[0]))
				current = current[1:]
				currentLen -= dropped
				if len(current) > 0 {
					currentLen -= sepLen
				}
			}
		}
		if currentLen > 0 {
			currentLen += sepLen
		}
		current = append(current, piece)
		currentLen += pieceLen
	}
	emit()

	return chunks
}

// carryOverlap returns the trailing pieces of the emitted chunk totaling at
// most Overlap characters, to seed the next chunk.
func (s *Splitter) carryOverlap(emitted []string, sep string, sepLen int) ([]string, int) {
	if s.Overlap <= 0 || len(emitted) == 0 {
		return nil, 0
	}
	var tail []string
	total := 0
	for i := len(emitted) - 1; i >= 0; i-- {
		pieceLen := len([]rune(emitted[i]))
		added := pieceLen
		if len(tail) > 0 {
			added += sepLen
		}
		if total+added > s.Overlap {
			break
		}
		tail = append([]string{emitted[i]}, tail...)
		total += added
	}
	return tail, total
}
