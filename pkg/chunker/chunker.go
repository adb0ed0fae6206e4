// Package chunker splits raw conversation transcripts into question/answer
// units ready for embedding. Parsing is pure and deterministic; no I/O.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength is the display-summary cap applied to the question field.
// The full question is always retained in the chunk text.
const MaxQuestionLength = 200

// Chunk is one parsed question/answer unit extracted from conversational
// text, prior to vectorization.
type Chunk struct {
	// Text is the full formatted exchange: "Human: <q>\nAssistant: <a>"
	Text string

	// Question is the question portion, truncated to MaxQuestionLength
	Question string
}

type role int

const (
	roleNone role = iota
	roleHuman
	roleAssistant
)

// roleMarkers maps the recognized case-insensitive speaker labels to roles.
// Human/User open a question, Assistant/Claude open an answer.
var roleMarkers = map[string]role{
	"human":     roleHuman,
	"user":      roleHuman,
	"assistant": roleAssistant,
	"claude":    roleAssistant,
}

// Split parses conversation content into ordered Q&A chunks.
//
// The parser is a two-state accumulator: while a Human/User block is open it
// is awaiting a question; while an Assistant/Claude block is open it is
// awaiting an answer to the pending question. A dangling question with no
// answer is dropped, as is an answer block that accumulates no text. Lines
// before the first recognized marker are discarded.
func Split(content string) []Chunk {
	var (
		chunks   []Chunk
		current  = roleNone
		buffer   []string
		question string
		havePair bool
	)

	flush := func() {
		switch current {
		case roleHuman:
			question = strings.TrimSpace(strings.Join(buffer, "\n"))
			havePair = question != ""
		case roleAssistant:
			answer := strings.TrimSpace(strings.Join(buffer, "\n"))
			if havePair && answer != "" {
				chunks = append(chunks, newChunk(question, answer))
				havePair = false
			}
		}
	}

	for _, line := range strings.Split(content, "\n") {
		r, rest, ok := matchMarker(line)
		if !ok {
			if current != roleNone {
				buffer = append(buffer, line)
			}
			continue
		}

		flush()
		current = r
		buffer = buffer[:0]
		if rest != "" {
			buffer = append(buffer, rest)
		}
	}
	flush()

	return chunks
}

// matchMarker reports whether a line starts a new speaker block, returning
// the role and any text following the marker on the same line.
func matchMarker(line string) (role, string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return roleNone, "", false
	}
	r, ok := roleMarkers[strings.ToLower(line[:idx])]
	if !ok {
		return roleNone, "", false
	}
	return r, strings.TrimSpace(line[idx+1:]), true
}

func newChunk(question, answer string) Chunk {
	return Chunk{
		Text:     "Human: " + question + "\nAssistant: " + answer,
		Question: Truncate(question, MaxQuestionLength),
	}
}

// Truncate returns s cut to at most n characters. It counts runes, not
// bytes, so multi-byte text is never cut mid-character.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
