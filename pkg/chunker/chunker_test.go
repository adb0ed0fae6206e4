package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPairsCompleteExchanges(t *testing.T) {
	content := "Human: What is X?\nAssistant: X is Y.\n\nHuman: And Z?\nAssistant: Z is W."

	chunks := Split(content)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Human: What is X?\nAssistant: X is Y.", chunks[0].Text)
	assert.Equal(t, "What is X?", chunks[0].Question)
	assert.Equal(t, "Human: And Z?\nAssistant: Z is W.", chunks[1].Text)
	assert.Equal(t, "And Z?", chunks[1].Question)
}

func TestSplitDropsDanglingQuestion(t *testing.T) {
	content := "Human: First?\nAssistant: Answered.\nHuman: Never answered?"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "First?", chunks[0].Question)
}

func TestSplitDropsEmptyAnswer(t *testing.T) {
	chunks := Split("Human: Anyone there?\nAssistant:")
	assert.Empty(t, chunks)
}

func TestSplitEmptyAnswerDoesNotConsumeQuestion(t *testing.T) {
	// An assistant block with no text vanishes; the pending question pairs
	// with the next assistant block, matching turn-based parsing.
	content := "Human: Q?\nAssistant:\nAssistant: real answer"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Human: Q?\nAssistant: real answer", chunks[0].Text)
}

func TestSplitNoMarkers(t *testing.T) {
	assert.Empty(t, Split("just some freeform text\nwith no speakers"))
	assert.Empty(t, Split(""))
}

func TestSplitDiscardsPreambleBeforeFirstMarker(t *testing.T) {
	content := "session log 2024-01-01\nHuman: hi\nAssistant: hello"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Human: hi\nAssistant: hello", chunks[0].Text)
}

func TestSplitRoleAliasesAndCase(t *testing.T) {
	content := "USER: question one\nCLAUDE: answer one\nuser: question two\nassistant: answer two"

	chunks := Split(content)

	require.Len(t, chunks, 2)
	assert.Equal(t, "question one", chunks[0].Question)
	assert.Equal(t, "question two", chunks[1].Question)
}

func TestSplitMultilineBuffers(t *testing.T) {
	content := "Human: line one\nline two\nAssistant: answer line one\nanswer line two"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Human: line one\nline two\nAssistant: answer line one\nanswer line two", chunks[0].Text)
	assert.Equal(t, "line one\nline two", chunks[0].Question)
}

func TestSplitConsecutiveQuestionsKeepLatest(t *testing.T) {
	content := "Human: stale?\nHuman: fresh?\nAssistant: answer"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "fresh?", chunks[0].Question)
}

func TestSplitTruncatesLongQuestion(t *testing.T) {
	question := strings.Repeat("q", MaxQuestionLength+50)
	content := "Human: " + question + "\nAssistant: short"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Question, MaxQuestionLength)
	// The full question is retained in the exchange text.
	assert.Contains(t, chunks[0].Text, question)
}

func TestTruncateCountsRunes(t *testing.T) {
	// 80 three-byte characters stay within a 200-character limit even
	// though they exceed 200 bytes.
	short := strings.Repeat("日", 80)
	assert.Equal(t, short, Truncate(short, MaxQuestionLength))

	long := strings.Repeat("日", MaxQuestionLength+50)
	got := Truncate(long, MaxQuestionLength)
	assert.Equal(t, MaxQuestionLength, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestSplitTruncatesMultiByteQuestionByRunes(t *testing.T) {
	question := strings.Repeat("日", MaxQuestionLength+10)
	content := "Human: " + question + "\nAssistant: short"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, MaxQuestionLength, utf8.RuneCountInString(chunks[0].Question))
	assert.True(t, utf8.ValidString(chunks[0].Question))
	assert.Contains(t, chunks[0].Text, question)
}

func TestSplitIndentedLabelIsNotAMarker(t *testing.T) {
	content := "Human: does indentation matter?\nAssistant: yes:\n  Human: this is quoted, not a turn"

	chunks := Split(content)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "quoted, not a turn")
}
