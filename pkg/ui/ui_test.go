package ui

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/groupchat/pkg/model"
)

func TestNewView(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	v := NewView("alice", []model.Message{
		{ID: "1", From: "bob", Text: "hi", CreatedAt: t0},
		{ID: "2", From: "alice", Text: "<b>yo</b> &amp; co", Image: "https://cdn/x.png"},
	}, true, "")

	require.Len(t, v.Bubbles, 2)
	assert.False(t, v.Bubbles[0].Mine)
	assert.Equal(t, "hi", v.Bubbles[0].Text)
	assert.Equal(t, FormatTime(t0), v.Bubbles[0].Time)
	assert.True(t, v.Bubbles[1].Mine)
	assert.Equal(t, "<b>yo</b> &amp; co", v.Bubbles[1].Text)
	assert.Empty(t, v.Bubbles[1].Time)
	assert.True(t, v.Uploading)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello", "hello"},
		{"markup is text", "use <div> for layout, 2<3", "use <div> for layout, 2<3"},
		{"unicode", "grüß dich 👋", "grüß dich 👋"},
		{"clear screen", "mallory\x1b[2J", "mallory"},
		{"bell", "ding\a dong", "ding dong"},
		{"window title", "hi\x1b]0;pwned\a\x1b[31m", "hi"},
		{"title with ST", "a\x1b]2;x\x1b\\b", "ab"},
		{"c1 csi", "a\u009b31mb", "ab"},
		{"two byte escape", "a\x1bcb", "ab"},
		{"dangling escape", "a\x1b", "a"},
		{"line breaks", "one\ntwo\tthree\r", "one two three "},
		{"other controls", "a\x00\x08\x7fb", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestRendererStripsControlBytes(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)
	r.Render(NewView("alice", []model.Message{{
		ID:    "1",
		From:  "mallory\x1b[2J",
		Text:  "hi\x1b]0;pwned\a\x1b[31m",
		Image: "https://cdn/x.png\x1b[8m",
	}}, false, ""))

	s := out.String()
	assert.NotContains(t, s, "\x1b")
	assert.NotContains(t, s, "\a")
	assert.Contains(t, s, "mallory")
	assert.Contains(t, s, "[image] https://cdn/x.png (download)")
}

func TestRenderer(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)
	r.Render(NewView("alice", []model.Message{
		{ID: "1", From: "bob", Text: "hi"},
		{ID: "2", From: "alice", Text: "hello"},
	}, true, "cat.png"))
	r.ScrollToEnd()

	s := out.String()
	assert.Contains(t, s, "Social Group-Chat")
	assert.Contains(t, s, "Signed in as alice")
	assert.Contains(t, s, "Uploading...")
	assert.Contains(t, s, "[attached: cat.png]")

	lines := strings.Split(s, "\n")
	var bobLine, aliceLine string
	for _, l := range lines {
		switch strings.TrimSpace(l) {
		case "hi":
			bobLine = l
		case "hello":
			aliceLine = l
		}
	}
	// other people's messages sit on the left, our own on the right
	assert.Equal(t, "hi", bobLine)
	assert.True(t, strings.HasPrefix(aliceLine, "   "))
	assert.Contains(t, s, "bob\n")
}

func TestRendererKeepsQuestion(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	term := NewTerminal(pr, io.Discard)
	term.Prompt("> ")

	answer := make(chan bool)
	go func() {
		answer <- term.ConfirmContext(context.Background(), "Allow notifications for new messages?")
	}()
	assert.Eventually(t, func() bool {
		return strings.HasPrefix(term.PendingPrompt(), "?")
	}, time.Second, time.Millisecond)

	// a message arrives and the screen is cleared and redrawn
	var out bytes.Buffer
	r := NewRenderer(&out, true)
	r.SetFooter(term.PendingPrompt)
	r.Render(NewView("alice", []model.Message{{ID: "1", From: "bob", Text: "hi"}}, false, ""))
	r.ScrollToEnd()

	s := out.String()
	last := s[strings.LastIndex(s, "\033[2J"):]
	assert.Contains(t, last, "bob")
	assert.True(t, strings.HasSuffix(s, "? Allow notifications for new messages? [y/N] "))

	go func() { _, _ = io.WriteString(pw, "y\n") }()
	assert.True(t, <-answer)
	assert.Equal(t, "> ", term.PendingPrompt())

	out.Reset()
	r.Render(NewView("alice", nil, false, ""))
	assert.True(t, strings.HasSuffix(out.String(), "> "))
}

func TestTerminal(t *testing.T) {
	t.Run("lines", func(t *testing.T) {
		var out bytes.Buffer
		term := NewTerminal(strings.NewReader("one\ntwo\n"), &out)
		l, ok := term.ReadLine()
		assert.True(t, ok)
		assert.Equal(t, "one", l)
		l, ok = term.ReadLine()
		assert.True(t, ok)
		assert.Equal(t, "two", l)
		_, ok = term.ReadLine()
		assert.False(t, ok)
	})

	t.Run("confirm takes the next line", func(t *testing.T) {
		pr, pw := io.Pipe()
		var out bytes.Buffer
		term := NewTerminal(pr, &out)

		answer := make(chan bool)
		go func() { answer <- term.Confirm("Delete this message?") }()

		// wait for the prompt to be registered before typing
		assert.Eventually(t, func() bool {
			term.mu.Lock()
			defer term.mu.Unlock()
			return term.pending != nil
		}, time.Second, time.Millisecond)

		go func() {
			_, _ = io.WriteString(pw, "y\nnext\n")
			_ = pw.Close()
		}()
		assert.True(t, <-answer)

		l, ok := term.ReadLine()
		assert.True(t, ok)
		assert.Equal(t, "next", l)
	})

	t.Run("confirm takes a line typed ahead", func(t *testing.T) {
		pr, pw := io.Pipe()
		term := NewTerminal(pr, io.Discard)
		go func() { _, _ = io.WriteString(pw, "yes\n") }()

		// nobody calls ReadLine, so the line is parked in the reader
		time.Sleep(20 * time.Millisecond)
		assert.True(t, term.Confirm("sure?"))
		_ = pw.Close()
	})

	t.Run("confirm gives up with its context", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		term := NewTerminal(pr, io.Discard)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, term.ConfirmContext(ctx, "sure?"))

		// the line goes back to the command loop
		go func() { _, _ = io.WriteString(pw, "after\n") }()
		l, ok := term.ReadLine()
		assert.True(t, ok)
		assert.Equal(t, "after", l)
	})

	t.Run("confirm after end of input", func(t *testing.T) {
		term := NewTerminal(strings.NewReader(""), io.Discard)
		_, ok := term.ReadLine()
		require.False(t, ok)
		assert.False(t, term.Confirm("sure?"))
	})
}
