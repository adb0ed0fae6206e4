package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ccforever/forever/pkg/chunker"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/store"
)

const (
	// AutoIndexTags marks records created by the session-end hook.
	AutoIndexTags = "auto-indexed"

	// MaxAnswerLength caps the answer captured by auto-indexing.
	MaxAnswerLength = 2000

	// interruptedMarker appears in transcript entries for turns the user
	// cancelled; those never become memories.
	interruptedMarker = "[Request interrupted"
)

// HookInput is the session-lifecycle signal that triggers auto-indexing.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	StopHookActive bool   `json:"stop_hook_active"`
}

// transcriptEntry is one newline-delimited record of a session transcript.
// Content is either a plain string or a list of typed blocks.
type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// AutoIndex stores the most recent question/answer exchange from a session
// transcript. Every failure on this path is logged and swallowed: the hook
// runs unattended and must never fail the signal that triggered it.
func (s *Service) AutoIndex(ctx context.Context, input HookInput) {
	if input.StopHookActive {
		log.Debug("Auto-index skipped", "reason", "stop hook active")
		return
	}
	if !s.cfg.AutoIndex {
		log.Debug("Auto-index skipped", "reason", "disabled in configuration")
		return
	}

	if err := s.autoIndex(ctx, input); err != nil {
		log.Error("Auto-index failed", "error", err, "session_id", input.SessionID)
	}
}

func (s *Service) autoIndex(ctx context.Context, input HookInput) error {
	entries, err := readTranscript(input.TranscriptPath)
	if err != nil || len(entries) == 0 {
		log.Debug("Auto-index skipped", "reason", "transcript unavailable", "path", input.TranscriptPath)
		return nil
	}

	question, answer, ok := lastExchange(entries)
	if !ok {
		log.Debug("Auto-index skipped", "reason", "no complete exchange in transcript")
		return nil
	}

	if utf8.RuneCountInString(answer) > MaxAnswerLength {
		answer = chunker.Truncate(answer, MaxAnswerLength) + "..."
	}

	project := "unknown"
	if input.CWD != "" {
		project = filepath.Base(input.CWD)
	}

	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	text := "Human: " + question + "\nAssistant: " + answer
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}

	record := store.Record{
		ID:        fmt.Sprintf("%s-%d", sessionID, time.Now().UnixMilli()),
		Text:      text,
		Question:  chunker.Truncate(question, chunker.MaxQuestionLength),
		Vector:    vector,
		Project:   project,
		Tags:      AutoIndexTags,
		Timestamp: time.Now().UTC().Format(TimestampLayout),
	}
	if err := s.store.InsertChunks(ctx, []store.Record{record}); err != nil {
		return err
	}

	log.Info("Auto-indexed exchange", "id", record.ID, "project", project)
	return nil
}

// readTranscript parses a newline-delimited transcript file. Unparseable
// lines are skipped rather than failing the whole read.
func readTranscript(path string) ([]transcriptEntry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []transcriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e transcriptEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// lastExchange finds the most recent human entry that was not interrupted
// and joins the assistant entries that immediately follow it.
func lastExchange(entries []transcriptEntry) (question, answer string, ok bool) {
	last := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if !isRole(entries[i], "user") {
			continue
		}
		text := entryText(entries[i])
		if text == "" || strings.Contains(text, interruptedMarker) {
			continue
		}
		last = i
		question = text
		break
	}
	if last < 0 {
		return "", "", false
	}

	var parts []string
	for i := last + 1; i < len(entries); i++ {
		if isRole(entries[i], "user") {
			break
		}
		if !isRole(entries[i], "assistant") {
			continue
		}
		if text := entryText(entries[i]); text != "" {
			parts = append(parts, text)
		}
	}

	answer = strings.TrimSpace(strings.Join(parts, "\n"))
	if answer == "" {
		return "", "", false
	}
	return question, answer, true
}

// roleAliases normalizes the speaker labels a transcript may carry, matching
// the aliases the chunker accepts for raw text.
var roleAliases = map[string]string{
	"user":      "user",
	"human":     "user",
	"assistant": "assistant",
	"claude":    "assistant",
}

func isRole(e transcriptEntry, role string) bool {
	return roleAliases[e.Type] == role || roleAliases[e.Message.Role] == role
}

// entryText extracts the plain text of an entry. Content is either a bare
// string or a list of blocks, of which only "text" blocks contribute.
func entryText(e transcriptEntry) string {
	if len(e.Message.Content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(e.Message.Content, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.Message.Content, &blocks); err != nil {
		return ""
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
