package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/embedder"
	embmock "github.com/ccforever/forever/pkg/embedder/adapters/mock"
	storemock "github.com/ccforever/forever/pkg/store/adapters/mock"
)

func newAutoIndexService(t *testing.T) (*Service, *storemock.MockStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AutoIndex = true
	st := storemock.NewMockStore()
	svc, err := NewService(embedder.New(embmock.New()), st, cfg)
	require.NoError(t, err)
	return svc, st
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

const (
	userLine      = `{"type":"user","message":{"role":"user","content":"How do I rotate the API keys?"}}`
	assistantLine = `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Run the rotate-keys script and restart the service."}]}}`
)

func TestAutoIndexStoresLastExchange(t *testing.T) {
	svc, st := newAutoIndexService(t)

	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"Earlier question?"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"Earlier answer."}}`,
		userLine,
		assistantLine,
	)

	svc.AutoIndex(context.Background(), HookInput{
		SessionID:      "sess-123",
		TranscriptPath: path,
		CWD:            "/home/dev/projects/billing",
	})

	records := st.Records()
	require.Len(t, records, 1)
	r := records[0]
	assert.True(t, strings.HasPrefix(r.ID, "sess-123-"))
	assert.Equal(t, "How do I rotate the API keys?", r.Question)
	assert.Equal(t, "Human: How do I rotate the API keys?\nAssistant: Run the rotate-keys script and restart the service.", r.Text)
	assert.Equal(t, "billing", r.Project)
	assert.Equal(t, AutoIndexTags, r.Tags)
}

func TestAutoIndexJoinsConsecutiveAssistantEntries(t *testing.T) {
	svc, st := newAutoIndexService(t)

	path := writeTranscript(t,
		userLine,
		`{"type":"assistant","message":{"role":"assistant","content":"First part."}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"Second part."}}`,
	)

	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path, CWD: "/tmp/x"})

	records := st.Records()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Text, "First part.\nSecond part.")
}

func TestAutoIndexSkipsWhenStopHookActive(t *testing.T) {
	svc, st := newAutoIndexService(t)
	path := writeTranscript(t, userLine, assistantLine)

	svc.AutoIndex(context.Background(), HookInput{TranscriptPath: path, StopHookActive: true})
	assert.Empty(t, st.Records())
}

func TestAutoIndexSkipsWhenDisabled(t *testing.T) {
	svc, st := newAutoIndexService(t)
	svc.cfg.AutoIndex = false
	path := writeTranscript(t, userLine, assistantLine)

	svc.AutoIndex(context.Background(), HookInput{TranscriptPath: path})
	assert.Empty(t, st.Records())
}

func TestAutoIndexSkipsMissingTranscript(t *testing.T) {
	svc, st := newAutoIndexService(t)

	svc.AutoIndex(context.Background(), HookInput{TranscriptPath: "/nonexistent/transcript.jsonl"})
	assert.Empty(t, st.Records())

	svc.AutoIndex(context.Background(), HookInput{TranscriptPath: ""})
	assert.Empty(t, st.Records())
}

func TestAutoIndexSkipsInterruptedTurn(t *testing.T) {
	svc, st := newAutoIndexService(t)

	path := writeTranscript(t,
		userLine,
		assistantLine,
		`{"type":"user","message":{"role":"user","content":"[Request interrupted by user]"}}`,
	)

	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path, CWD: "/tmp/x"})

	// The interrupted turn is skipped; the previous complete exchange is
	// indexed instead.
	records := st.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "How do I rotate the API keys?", records[0].Question)
}

func TestAutoIndexSkipsWhenNoAnswer(t *testing.T) {
	svc, st := newAutoIndexService(t)
	path := writeTranscript(t, userLine)

	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path})
	assert.Empty(t, st.Records())
}

func TestAutoIndexTruncatesLongAnswer(t *testing.T) {
	svc, st := newAutoIndexService(t)

	long := strings.Repeat("x", MaxAnswerLength+500)
	path := writeTranscript(t,
		userLine,
		`{"type":"assistant","message":{"role":"assistant","content":"`+long+`"}}`,
	)

	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path, CWD: "/tmp/x"})

	records := st.Records()
	require.Len(t, records, 1)
	assert.True(t, strings.HasSuffix(records[0].Text, "..."))
	answer := strings.SplitN(records[0].Text, "\nAssistant: ", 2)[1]
	assert.Len(t, answer, MaxAnswerLength+3)
}

func TestAutoIndexTruncatesMultiByteAnswerByRunes(t *testing.T) {
	svc, st := newAutoIndexService(t)

	long := strings.Repeat("日", MaxAnswerLength+500)
	path := writeTranscript(t,
		userLine,
		`{"type":"assistant","message":{"role":"assistant","content":"`+long+`"}}`,
	)

	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path, CWD: "/tmp/x"})

	records := st.Records()
	require.Len(t, records, 1)
	require.True(t, utf8.ValidString(records[0].Text))
	answer := strings.SplitN(records[0].Text, "\nAssistant: ", 2)[1]
	assert.Equal(t, MaxAnswerLength+3, utf8.RuneCountInString(answer))
	assert.True(t, strings.HasSuffix(answer, "..."))
}

func TestAutoIndexAcceptsRoleAliases(t *testing.T) {
	svc, st := newAutoIndexService(t)

	path := writeTranscript(t,
		`{"type":"human","message":{"role":"human","content":"Aliased question?"}}`,
		`{"type":"claude","message":{"role":"claude","content":"Aliased answer."}}`,
	)

	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path, CWD: "/tmp/x"})

	records := st.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Aliased question?", records[0].Question)
	assert.Contains(t, records[0].Text, "Aliased answer.")
}

func TestAutoIndexGeneratesIDWithoutSession(t *testing.T) {
	svc, st := newAutoIndexService(t)
	path := writeTranscript(t, userLine, assistantLine)

	svc.AutoIndex(context.Background(), HookInput{TranscriptPath: path, CWD: "/tmp/x"})

	records := st.Records()
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
}

func TestAutoIndexSwallowsStoreFailure(t *testing.T) {
	svc, st := newAutoIndexService(t)
	st.FailInsert = true
	path := writeTranscript(t, userLine, assistantLine)

	// Must not panic or propagate; the hook path is fail-silent.
	svc.AutoIndex(context.Background(), HookInput{SessionID: "s", TranscriptPath: path, CWD: "/tmp/x"})
	assert.Empty(t, st.Records())
}
