// ABOUTME: Incremental terminal output for conversation updates
// ABOUTME: Prints only the new suffix of the in-flight reply as it streams

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/render"
)

var (
	dim      = color.New(color.FgHiBlack)
	errStyle = color.New(color.FgRed)
	userTag  = color.New(color.FgBlue, color.Bold)
	botTag   = color.New(color.FgGreen, color.Bold)
)

// streamRenderer writes the growing assistant reply to out. The engine only
// ever appends to the provisional reply, so each update is written as a
// suffix of what was already printed.
type streamRenderer struct {
	out     io.Writer
	replyID string
	printed string
}

func newStreamRenderer(out io.Writer) *streamRenderer {
	return &streamRenderer{out: out}
}

// Update prints whatever the update added to the in-flight reply.
func (r *streamRenderer) Update(u conversation.Update) {
	reply, ok := inflightReply(u.Messages)
	if !ok {
		return
	}
	if reply.ID != r.replyID {
		r.replyID = reply.ID
		r.printed = ""
	}
	if !strings.HasPrefix(reply.Content, r.printed) {
		// Only reconciliation rewrites content, and it clears the provisional reply first.
		return
	}
	if delta := reply.Content[len(r.printed):]; delta != "" {
		fmt.Fprint(r.out, delta)
		r.printed = reply.Content
	}
}

// Finish ends the current reply. If nothing was streamed, the final
// assistant message from msgs is printed instead. A dropped update can leave
// the streamed text short; the missing tail is printed when it still matches.
func (r *streamRenderer) Finish(msgs []chat.Message) {
	if last, ok := lastAssistant(msgs); ok {
		switch {
		case r.printed == "":
			fmt.Fprint(r.out, render.Markdown(last.Content))
			r.printed = last.Content
		case strings.HasPrefix(last.Content, r.printed):
			fmt.Fprint(r.out, last.Content[len(r.printed):])
		}
	}
	if r.printed != "" {
		fmt.Fprintln(r.out)
	}
	r.replyID = ""
	r.printed = ""
}

func inflightReply(msgs []chat.Message) (chat.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant && msgs[i].IsProvisional() {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}

func lastAssistant(msgs []chat.Message) (chat.Message, bool) {
	if n := len(msgs); n > 0 && msgs[n-1].Role == chat.RoleAssistant {
		return msgs[n-1], true
	}
	return chat.Message{}, false
}

// printMessages writes a full transcript with markdown rendered.
func printMessages(out io.Writer, msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages yet")
		return
	}
	for _, m := range msgs {
		tag := botTag.Sprint("assistant")
		if m.Role == chat.RoleUser {
			tag = userTag.Sprint("you")
		} else if m.Role != chat.RoleAssistant {
			tag = dim.Sprint(string(m.Role))
		}
		suffix := ""
		switch m.State {
		case chat.StateProvisional:
			suffix = dim.Sprint(" (sending)")
		case chat.StateUnconfirmed:
			suffix = errStyle.Sprint(" (not confirmed)")
		}
		fmt.Fprintf(out, "%s%s %s\n", tag, suffix, dim.Sprint(m.CreatedAt.Local().Format("15:04")))
		fmt.Fprintln(out, render.Markdown(m.Content))
		fmt.Fprintln(out)
	}
}
