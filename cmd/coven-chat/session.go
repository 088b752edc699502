// ABOUTME: Interactive chat session: slash commands and the streaming send loop
// ABOUTME: Drives the engine, renders broadcaster updates, and manages conversations

package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/engine"
	"github.com/2389/coven-chat/internal/render"
	"github.com/2389/coven-chat/internal/store"
)

//go:embed help.md
var helpText string

// chatAPI is the part of the backend client used by commands.
type chatAPI interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (*chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	GetConversationAnalysis(ctx context.Context, id string) (*client.Analysis, error)
}

// runArchive is the part of the trace store used by commands.
type runArchive interface {
	ListRuns(ctx context.Context, params store.ListRunsParams) ([]*store.ArchivedRun, error)
	DeleteConversationRuns(ctx context.Context, conversationID string) (int64, error)
}

type session struct {
	engine   *engine.Engine
	api      chatAPI
	archive  runArchive // nil when archiving is off
	out      io.Writer
	renderer *streamRenderer

	model          string
	attachment     string
	attachmentName string
}

func newSession(e *engine.Engine, api chatAPI, archive runArchive, model string, out io.Writer) *session {
	return &session{
		engine:   e,
		api:      api,
		archive:  archive,
		out:      out,
		renderer: newStreamRenderer(out),
		model:    model,
	}
}

type command struct {
	name string
	arg  string
}

// parseCommand splits a "/name arg" line. ok is false for plain messages.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || line == "/" {
		return command{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

func (s *session) prompt() string {
	var tags []string
	if id, ok := s.engine.ConversationID(); ok {
		if len(id) > 8 {
			id = id[:8]
		}
		tags = append(tags, id)
	}
	if s.model != "" {
		tags = append(tags, s.model)
	}
	if s.attachmentName != "" {
		tags = append(tags, "+"+filepath.Base(s.attachmentName))
	}
	if len(tags) == 0 {
		return "> "
	}
	return dim.Sprintf("[%s]", strings.Join(tags, " ")) + "> "
}

// run reads lines from in until EOF, /quit, or an interrupt at the prompt.
func (s *session) run(ctx context.Context, in io.Reader, updates <-chan conversation.Update, interrupts <-chan os.Signal) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		fmt.Fprint(s.out, s.prompt())

		line, err := readLine(ctx, lines, readErr, updates, interrupts)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errInterrupted) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if cmd, ok := parseCommand(line); ok {
			quit, err := s.handle(ctx, cmd)
			if err != nil {
				fmt.Fprintln(s.out, errStyle.Sprintf("[error] %v", err))
			}
			if quit {
				return nil
			}
			fmt.Fprintln(s.out)
			continue
		}

		if err := s.send(ctx, line, updates, interrupts); err != nil {
			s.reportSendError(err)
		}
		fmt.Fprintln(s.out)
	}
}

var errInterrupted = errors.New("interrupted")

// readLine waits for the next input line. Updates arriving at the prompt are
// leftovers of a finished send and are discarded.
func readLine(ctx context.Context, lines <-chan string, readErr <-chan error, updates <-chan conversation.Update, interrupts <-chan os.Signal) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-interrupts:
			return "", errInterrupted
		case err := <-readErr:
			return "", err
		case _, ok := <-updates:
			if !ok {
				updates = nil
			}
		case line := <-lines:
			return line, nil
		}
	}
}

// send runs one engine send and renders updates until it completes. An
// interrupt cancels the send without leaving the session.
func (s *session) send(ctx context.Context, text string, updates <-chan conversation.Update, interrupts <-chan os.Signal) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := chat.SendOptions{Model: s.model, Attachment: s.attachment}
	done := make(chan error, 1)
	go func() {
		done <- s.engine.Send(sendCtx, text, opts)
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.renderer.Update(u)
		case <-interrupts:
			cancel()
		case err := <-done:
			s.drain(updates)
			if err != nil {
				s.renderer.Finish(nil)
			} else {
				s.renderer.Finish(s.engine.Messages())
			}
			if err == nil || !isRejected(err) {
				s.clearAttachment()
			}
			return err
		}
	}
}

func (s *session) drain(updates <-chan conversation.Update) {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			s.renderer.Update(u)
		default:
			return
		}
	}
}

// isRejected reports errors returned before a send was accepted.
func isRejected(err error) bool {
	return errors.Is(err, engine.ErrBusy) ||
		errors.Is(err, engine.ErrEmptyMessage) ||
		errors.Is(err, engine.ErrMessageTooLong) ||
		errors.Is(err, engine.ErrDetached)
}

func (s *session) reportSendError(err error) {
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(s.out, dim.Sprint("[cancelled]"))
	case errors.Is(err, engine.ErrMessageTooLong):
		fmt.Fprintln(s.out, errStyle.Sprintf("[error] message must be at most %d characters (attachments %d)",
			engine.MaxContentLength, engine.MaxAttachmentLength))
	case errors.Is(err, client.ErrUnauthorized):
		fmt.Fprintln(s.out, errStyle.Sprintf("[error] not authorized: %v", err))
	default:
		fmt.Fprintln(s.out, errStyle.Sprintf("[error] %v", err))
	}
}

func (s *session) clearAttachment() {
	s.attachment = ""
	s.attachmentName = ""
}

// errNoConversation is returned by commands that need an active conversation.
var errNoConversation = errors.New("no active conversation; send a message or /use <id> first")

func (s *session) activeID() (string, error) {
	id, ok := s.engine.ConversationID()
	if !ok {
		return "", errNoConversation
	}
	return id, nil
}

// handle runs a slash command. quit is true when the session should end.
func (s *session) handle(ctx context.Context, cmd command) (quit bool, err error) {
	switch cmd.name {
	case "quit", "exit", "q":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, render.Markdown(helpText))
	case "new":
		if err := s.engine.Reset(); err != nil {
			return false, err
		}
		s.clearAttachment()
		fmt.Fprintln(s.out, "Started a new conversation")
	case "use":
		if cmd.arg == "" {
			return false, errors.New("usage: /use <conversation id>")
		}
		if err := s.engine.Open(ctx, cmd.arg); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Opened %s (%d messages)\n", cmd.arg, len(s.engine.Messages()))
	case "history":
		printMessages(s.out, s.engine.Messages())
	case "reload":
		if err := s.engine.Load(ctx); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Reloaded %d messages\n", len(s.engine.Messages()))
	case "chats":
		return false, s.listChats(ctx)
	case "rename":
		return false, s.rename(ctx, cmd.arg)
	case "delete":
		return false, s.deleteActive(ctx)
	case "analysis":
		return false, s.showAnalysis(ctx)
	case "traces":
		s.listTraces()
	case "trace":
		return false, s.showTrace(cmd.arg)
	case "archive":
		return false, s.listArchive(ctx)
	case "model":
		s.model = cmd.arg
		if s.model == "" {
			fmt.Fprintln(s.out, "Using the backend's default model")
		} else {
			fmt.Fprintf(s.out, "Using model %s\n", s.model)
		}
	case "attach":
		return false, s.attach(cmd.arg)
	case "error":
		if err := s.engine.Error(); err != nil {
			fmt.Fprintln(s.out, errStyle.Sprint(err.Error()))
		} else {
			fmt.Fprintln(s.out, "No error")
		}
	case "dismiss":
		s.engine.ClearError()
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", cmd.name)
	}
	return false, nil
}

func (s *session) listChats(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(s.out, "No conversations")
		return nil
	}
	active, _ := s.engine.ConversationID()
	for _, c := range convs {
		marker := "  "
		if c.ID == active {
			marker = "* "
		}
		fmt.Fprintf(s.out, "%s%s  %s\n", marker, c.ID, c.Title)
	}
	return nil
}

func (s *session) rename(ctx context.Context, title string) error {
	if title == "" {
		return errors.New("usage: /rename <title>")
	}
	id, err := s.activeID()
	if err != nil {
		return err
	}
	conv, err := s.api.RenameConversation(ctx, id, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Renamed to %q\n", conv.Title)
	return nil
}

func (s *session) deleteActive(ctx context.Context) error {
	id, err := s.activeID()
	if err != nil {
		return err
	}
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	if s.archive != nil {
		if _, err := s.archive.DeleteConversationRuns(ctx, id); err != nil {
			fmt.Fprintln(s.out, errStyle.Sprintf("[warn] archived traces not removed: %v", err))
		}
	}
	if err := s.engine.Reset(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted %s\n", id)
	return nil
}

func (s *session) showAnalysis(ctx context.Context) error {
	id, err := s.activeID()
	if err != nil {
		return err
	}
	a, err := s.api.GetConversationAnalysis(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "persona: %s  forum simulation: %s  pain points: %s  customer journey: %s\n",
		yesNo(a.HasPersona), yesNo(a.HasForumSimulation), yesNo(a.HasPainPoints), yesNo(a.HasCustomerJourney))
	if a.Persona == nil {
		return nil
	}
	for _, section := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"initial questions", a.Persona.InitialQuestions},
		{"full analysis", a.Persona.FullAnalysis},
	} {
		fmt.Fprintf(s.out, "%s:\n%s\n", section.name, indentJSON(section.raw))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "  (none)"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "  " + string(raw)
	}
	b, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return "  " + string(raw)
	}
	return "  " + string(b)
}

func (s *session) listTraces() {
	runs := s.engine.Runs()
	if len(runs) == 0 {
		fmt.Fprintln(s.out, "No trace runs in this session")
		return
	}
	_, selected, hasSelected := s.engine.SelectedRun()
	for i, run := range runs {
		marker := "  "
		if hasSelected && i == selected {
			marker = "* "
		}
		fmt.Fprintf(s.out, "%s%d. %s  %q  (%d events)\n",
			marker, i+1, run.StartedAt.Local().Format("15:04:05"), truncate(run.UserMessage, 40), len(run.Events))
	}
}

// showTrace selects run n (1-based) and prints its events.
func (s *session) showTrace(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return errors.New("usage: /trace <number>")
	}
	if err := s.engine.SelectRun(n - 1); err != nil {
		return err
	}
	run, _, _ := s.engine.SelectedRun()
	fmt.Fprintf(s.out, "Run %d: %q\n", n, run.UserMessage)
	if len(run.Events) == 0 {
		fmt.Fprintln(s.out, "  (no debug events)")
	}
	for _, ev := range run.Events {
		fmt.Fprintln(s.out, indentJSON(ev))
	}
	return nil
}

func (s *session) listArchive(ctx context.Context) error {
	if s.archive == nil {
		return errors.New("trace archive is disabled (set trace.enabled in the config)")
	}
	id, err := s.activeID()
	if err != nil {
		return err
	}
	runs, err := s.archive.ListRuns(ctx, store.ListRunsParams{ConversationID: id})
	if err != nil {
		return err
	}
	printArchivedRuns(s.out, runs)
	return nil
}

func printArchivedRuns(out io.Writer, runs []*store.ArchivedRun) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No archived runs")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s  %s  %s  %q  (%d events)\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID, r.ConversationID, truncate(r.UserMessage, 40), r.EventCount)
	}
}

func (s *session) attach(path string) error {
	if path == "" {
		s.clearAttachment()
		fmt.Fprintln(s.out, "Attachment cleared")
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	if !utf8.Valid(data) {
		return errors.New("attachment must be a text file")
	}
	if n := utf8.RuneCount(data); n > engine.MaxAttachmentLength {
		return fmt.Errorf("attachment has %d characters, limit is %d", n, engine.MaxAttachmentLength)
	}
	s.attachment = string(data)
	s.attachmentName = path
	fmt.Fprintf(s.out, "Attached %s (%d characters) to the next message\n", path, utf8.RuneCount(data))
	return nil
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
