package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/logrusorgru/aurora"

	"github.com/mahaj/groupchat/pkg/model"
)

const (
	title = "Social Group-Chat"
	width = 72
)

// Bubble is one rendered message.
type Bubble struct {
	ID    string
	From  string
	Text  string
	Image string
	Time  string
	Mine  bool
}

// View is everything the chat screen shows.
type View struct {
	Identity  string
	Bubbles   []Bubble
	Uploading bool
	Staged    string
}

// NewView builds the screen for identity from the message list.
func NewView(identity string, msgs []model.Message, uploading bool, staged string) View {
	v := View{
		Identity:  Sanitize(identity),
		Uploading: uploading,
		Staged:    Sanitize(staged),
		Bubbles:   make([]Bubble, 0, len(msgs)),
	}
	for _, m := range msgs {
		v.Bubbles = append(v.Bubbles, Bubble{
			ID:    Sanitize(m.ID),
			From:  Sanitize(m.From),
			Text:  Sanitize(m.Text),
			Image: Sanitize(m.Image),
			Time:  FormatTime(m.CreatedAt),
			Mine:  m.From == identity,
		})
	}
	return v
}

// Sanitize makes text from other users safe to print on a terminal. Escape
// sequences (CSI, OSC and the like) and other control characters are
// removed; tabs and line breaks become spaces. Everything else is kept
// verbatim.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == 0x1b:
			i = skipEscape(s, i)
		case r == 0x9b:
			i = skipCSI(s, i)
		case r == 0x90 || r == 0x98 || r == 0x9d || r == 0x9e || r == 0x9f:
			i = skipString(s, i)
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// skipEscape skips what follows an ESC at s[i:] and returns the new offset.
func skipEscape(s string, i int) int {
	if i >= len(s) {
		return i
	}
	switch s[i] {
	case '[':
		return skipCSI(s, i+1)
	case ']', 'P', 'X', '^', '_':
		return skipString(s, i+1)
	default:
		_, size := utf8.DecodeRuneInString(s[i:])
		return i + size
	}
}

// skipCSI skips parameter and intermediate bytes up to the final byte.
func skipCSI(s string, i int) int {
	for ; i < len(s); i++ {
		if c := s[i]; c >= 0x40 && c <= 0x7e {
			return i + 1
		}
	}
	return i
}

// skipString skips an OSC/DCS style string up to BEL or the string terminator.
func skipString(s string, i int) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == 0x07 || r == 0x9c:
			return i + size
		case r == 0x1b && i+1 < len(s) && s[i+1] == '\\':
			return i + 2
		}
		i += size
	}
	return i
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// Renderer draws the chat screen on a terminal.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	au  aurora.Aurora
	// clear the screen before every render
	clear  bool
	footer func() string
}

func NewRenderer(out io.Writer, colors bool) *Renderer {
	return &Renderer{out: out, au: aurora.NewAurora(colors), clear: colors}
}

// SetFooter sets a line printed after every render, such as the prompt the
// cleared screen would otherwise hide.
func (r *Renderer) SetFooter(fn func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.footer = fn
}

func (r *Renderer) Render(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	if r.clear {
		b.WriteString("\033[H\033[2J")
	}
	fmt.Fprintf(&b, "%s\n", r.au.Bold(title))
	fmt.Fprintf(&b, "Signed in as %s\n", r.au.Bold(v.Identity))
	b.WriteString(strings.Repeat("-", width) + "\n")
	if v.Uploading {
		fmt.Fprintf(&b, "%s\n", r.au.BgBlue("Uploading..."))
	}
	for _, bb := range v.Bubbles {
		r.bubble(&b, bb)
	}
	if v.Staged != "" {
		fmt.Fprintf(&b, "[attached: %s]\n", v.Staged)
	}
	if r.footer != nil {
		b.WriteString(r.footer())
	}
	_, _ = io.WriteString(r.out, b.String())
}

func (r *Renderer) bubble(b *strings.Builder, bb Bubble) {
	var lines []string
	if !bb.Mine {
		lines = append(lines, bb.From)
	}
	if bb.Text != "" {
		lines = append(lines, bb.Text)
	}
	if bb.Image != "" {
		lines = append(lines, "[image] "+bb.Image+" (download)")
	}
	meta := bb.Time
	if bb.ID != "" {
		meta += "  #" + bb.ID
	}
	lines = append(lines, meta)

	for i, l := range lines {
		var styled string
		switch {
		case bb.Mine:
			styled = r.au.Bold(r.au.Blue(l)).String()
		case i == 0:
			styled = r.au.Gray(12, l).String()
		default:
			styled = l
		}
		if bb.Mine {
			pad := width - len([]rune(l))
			if pad < 0 {
				pad = 0
			}
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(styled)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// ScrollToEnd marks the newest entry as the current position.
func (r *Renderer) ScrollToEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	footer := ""
	if r.footer != nil {
		footer = r.footer()
	}
	var b strings.Builder
	if footer != "" {
		// the footer of the last render is still on this line
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("-", width) + "\n")
	b.WriteString(footer)
	_, _ = io.WriteString(r.out, b.String())
}
