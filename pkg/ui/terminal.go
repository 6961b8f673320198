package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal owns user input. A single goroutine reads lines; a pending
// prompt (Confirm) gets the next line before the command loop does.
type Terminal struct {
	outMu sync.Mutex
	out   io.Writer

	lines chan string
	wake  chan struct{}

	mu       sync.Mutex
	pending  chan string
	question string
	prompt   string
	closed   bool
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{out: out, lines: make(chan string), wake: make(chan struct{}, 1)}
	go t.readLoop(in)
	return t
}

func (t *Terminal) readLoop(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		t.deliver(sc.Text())
	}

	t.mu.Lock()
	t.closed = true
	if t.pending != nil {
		close(t.pending)
		t.pending, t.question = nil, ""
	}
	t.mu.Unlock()
	close(t.lines)
}

// deliver hands line to a pending prompt, or to ReadLine. A prompt opened
// while the line waits for ReadLine takes it instead.
func (t *Terminal) deliver(line string) {
	for {
		t.mu.Lock()
		p := t.pending
		t.pending, t.question = nil, ""
		t.mu.Unlock()
		if p != nil {
			p <- line
			return
		}
		select {
		case t.lines <- line:
			return
		case <-t.wake:
		}
	}
}

// ReadLine returns the next command line; ok is false once input ends.
func (t *Terminal) ReadLine() (string, bool) {
	return t.ReadLineContext(context.Background())
}

// ReadLineContext is ReadLine that also gives up when ctx is done.
func (t *Terminal) ReadLineContext(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-t.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// Prompt prints the input prompt.
func (t *Terminal) Prompt(p string) {
	t.mu.Lock()
	t.prompt = p
	t.mu.Unlock()
	t.printf("%s", p)
}

// PendingPrompt returns what the user is currently being asked: an open
// question, or else the last input prompt. Screens that clear the terminal
// print it again at the bottom.
func (t *Terminal) PendingPrompt() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		return confirmLine(t.question)
	}
	return t.prompt
}

func confirmLine(question string) string {
	return fmt.Sprintf("? %s [y/N] ", question)
}

// Alert shows a message the user has to see.
func (t *Terminal) Alert(msg string) {
	t.printf("! %s\n", msg)
}

// Confirm asks a yes/no question and waits for the answer. End of input
// counts as no.
func (t *Terminal) Confirm(question string) bool {
	return t.ConfirmContext(context.Background(), question)
}

// ConfirmContext is Confirm that answers no once ctx is done.
func (t *Terminal) ConfirmContext(ctx context.Context, question string) bool {
	ch := make(chan string, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.pending, t.question = ch, question
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}

	t.printf("%s", confirmLine(question))
	var answer string
	select {
	case a, ok := <-ch:
		if !ok {
			return false
		}
		answer = a
	case <-ctx.Done():
		t.mu.Lock()
		if t.pending == ch {
			t.pending, t.question = nil, ""
		}
		t.mu.Unlock()
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (t *Terminal) Writer() io.Writer {
	return lockedWriter{t}
}

func (t *Terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

type lockedWriter struct{ t *Terminal }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.t.outMu.Lock()
	defer w.t.outMu.Unlock()
	return w.t.out.Write(p)
}
