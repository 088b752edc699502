// ABOUTME: Scripted assistant replies for the fake backend
// ABOUTME: Produces the stream frames for an echo reply, a reported error, or a dropped connection

package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// doneFrame ends a completed reply. It is sent after the reply is persisted
// so a client reconciling on done always finds it.
const doneFrame = "[DONE]"

// reply is the frame script for one send, excluding doneFrame.
type reply struct {
	frames []string
	// content is the assistant text to persist when complete.
	content string
	// complete is false when the stream ends in an error or a drop.
	complete bool
	// dropped ends the connection without a terminal frame.
	dropped bool
}

func frame(kind string, content any) string {
	b, _ := json.Marshal(map[string]any{"type": kind, "content": content})
	return string(b)
}

// script builds the frames for req.
func script(req sendRequest, debug bool) *reply {
	input := strings.TrimSpace(req.Content)
	r := &reply{}
	r.frames = append(r.frames, frame("status", "Thinking...\n\n"))
	if debug {
		r.frames = append(r.frames, frame("debug", map[string]any{
			"model":          modelOrDefault(req.Model),
			"prompt_chars":   len(req.Content),
			"attachment":     req.Attachment != "",
			"scripted_reply": true,
		}))
	}

	switch input {
	case magicError:
		r.frames = append(r.frames,
			frame("chunk", "Partial "),
			frame("error", "simulated backend failure"),
		)
		return r
	case magicDrop:
		r.frames = append(r.frames, frame("chunk", "Partial "))
		r.dropped = true
		return r
	}

	text := echoReply(input, req.Attachment)
	for _, word := range strings.SplitAfter(text, " ") {
		r.frames = append(r.frames, frame("chunk", word))
	}
	r.content = text
	r.complete = true
	return r
}

func modelOrDefault(model string) string {
	if model == "" {
		return "fake-echo"
	}
	return model
}

func echoReply(input, attachment string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item"
	}
	if attachment != "" {
		return fmt.Sprintf("Echo: %s (attachment: %d characters)", input, len([]rune(attachment)))
	}
	return fmt.Sprintf("Echo: %s", input)
}
