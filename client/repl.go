package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/logrusorgru/aurora"

	"github.com/mahaj/groupchat/pkg/chat"
	"github.com/mahaj/groupchat/pkg/notify"
	"github.com/mahaj/groupchat/pkg/ui"
)

const helpText = `Commands:
  <text>          send a message (with the attached file, if any)
  /file <path>    attach a file (max 5MB) to the next message
  /send           send the attached file without text
  /delete <id>    delete one of your messages
  /list           redraw the conversation
  /logout         forget your name and leave the chat
  /quit           exit
`

type repl struct {
	c    *chat.Controller
	term *ui.Terminal
	// perm is nil when push notifications are off.
	perm   notify.Capability
	out    io.Writer
	colors bool
}

func (r *repl) run(ctx context.Context) {
	if _, ok, _ := r.c.SavedIdentity(); ok {
		r.askPermission(ctx)
	}
	if _, err := r.c.Resume(); err != nil {
		r.term.Alert(err.Error())
	}
	for {
		if r.c.State() == chat.InChat {
			r.term.Prompt("> ")
		} else {
			r.term.Prompt("Enter your name: ")
		}
		line, ok := r.term.ReadLineContext(ctx)
		if !ok {
			return
		}
		if r.handle(ctx, strings.TrimRight(line, "\r")) {
			return
		}
	}
}

// handle runs one input line and reports whether the client should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	if strings.HasPrefix(line, "/") {
		cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
		return r.command(ctx, cmd, strings.TrimSpace(arg))
	}

	if r.c.State() != chat.InChat {
		if strings.TrimSpace(line) != "" {
			r.askPermission(ctx)
		}
		_ = r.c.Login(line)
		return false
	}
	if strings.TrimSpace(line) == "" {
		return false
	}
	r.c.SetText(line)
	_ = r.c.Send(ctx)
	return false
}

func (r *repl) command(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		r.help()
		return false
	}

	if r.c.State() != chat.InChat {
		r.term.Alert("Enter a name first")
		return false
	}
	switch cmd {
	case "file":
		if arg == "" {
			r.term.Alert("usage: /file <path>")
			return false
		}
		_ = r.c.SelectFile(arg)
	case "send":
		_ = r.c.Send(ctx)
	case "delete":
		if arg == "" {
			r.term.Alert("usage: /delete <id>")
			return false
		}
		_ = r.c.Delete(ctx, arg)
	case "list":
		r.c.Refresh()
	case "logout":
		if err := r.c.Logout(); err != nil {
			r.term.Alert("Logout: " + err.Error())
		}
	default:
		r.term.Alert("unknown command /" + cmd + ", try /help")
	}
	return false
}

// askPermission settles the notification permission at the command line
// before the chat screen owns the terminal, so the question is never
// answered by a chat line.
func (r *repl) askPermission(ctx context.Context) {
	if r.perm == nil || r.perm.PermissionState() != notify.PermissionDefault {
		return
	}
	if _, err := r.perm.RequestPermission(ctx); err != nil {
		r.term.Alert("Notifications: " + err.Error())
	}
}

func (r *repl) help() {
	au := aurora.NewAurora(r.colors)
	fmt.Fprint(r.out, au.Faint(helpText))
}
