package aiservice

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/prompt"
	"github.com/hrygo/relaywatch/internal/store"
)

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ExportChat implements §4.8's exportChat(user, chat): render the raw
// transcript as role-labeled, "---"-separated markdown, run the
// chat_notes job over its first exportNotesChars characters to produce
// a notes document, and push both through the GitHub collaborator when
// it is configured.
func (s *Service) ExportChat(ctx context.Context, userID string, chatID int64) (*ExportResult, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil || chat.UserID != userID {
		return nil, apperr.ErrNotFound
	}

	messages, err := s.store.ListMessages(ctx, chatID, allMessagesLimit)
	if err != nil {
		return nil, err
	}

	raw := renderTranscript(chat, messages)
	notesSource := raw
	if len([]rune(notesSource)) > exportNotesChars {
		notesSource = string([]rune(notesSource)[:exportNotesChars])
	}

	notesBody, err := s.RunJob(ctx, prompt.JobChatNotes, map[string]any{"text": notesSource})
	if err != nil {
		return nil, err
	}

	rawHTML, notesHTML, err := renderMarkdown(raw, notesBody)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		RawMarkdown:   raw,
		RawHTML:       rawHTML,
		NotesMarkdown: notesBody,
		NotesHTML:     notesHTML,
	}

	if s.github.IsReady() {
		stamp := time.Now().UTC().Format("20060102-150405")
		rawPath := fmt.Sprintf("raw/%s-%d.md", stamp, chatID)
		notesPath := fmt.Sprintf("notes/%s-%d.md", stamp, chatID)
		commitMsg := fmt.Sprintf("export chat %d (%s)", chatID, chat.Title)

		rawURL, err := s.github.SaveNote(ctx, rawPath, raw, commitMsg)
		if err != nil {
			return nil, err
		}
		notesURL, err := s.github.SaveNote(ctx, notesPath, notesBody, commitMsg)
		if err != nil {
			return nil, err
		}
		result.RawURL = rawURL
		result.NotesURL = notesURL
	}

	return result, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func renderTranscript(chat *store.AIChat, messages []*store.AIMessage) string {
	var b strings.Builder
	b.WriteString("# " + chat.Title + "\n\n")
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		b.WriteString("**" + capitalize(string(m.Role)) + "**\n\n")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// renderMarkdown converts raw and notes markdown to HTML via goldmark,
// for API Gateway clients that want to embed the export directly
// rather than render the markdown source themselves.
func renderMarkdown(raw, notes string) (string, string, error) {
	var rawBuf, notesBuf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(raw), &rawBuf); err != nil {
		return "", "", err
	}
	if err := markdownRenderer.Convert([]byte(notes), &notesBuf); err != nil {
		return "", "", err
	}
	return rawBuf.String(), notesBuf.String(), nil
}
