// ABOUTME: In-memory chat backend speaking the /api/chats HTTP, SSE, and WebSocket contract
// ABOUTME: Echoes messages as streamed chunks; "!error" and "!drop" simulate failures

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-chat/internal/chat"
)

// Inputs that trigger simulated failures.
const (
	magicError = "!error"
	magicDrop  = "!drop"
)

// Request limits mirrored from the real backend.
const (
	maxContentLength    = 5000
	maxAttachmentLength = 50000
	maxTitleLength      = 255
	defaultTitle        = "New Chat"
)

type fakeChat struct {
	conv     chat.Conversation
	messages []chat.Message
}

type server struct {
	mu    sync.Mutex
	chats map[string]*fakeChat

	debug  bool
	delay  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func newServer(debug bool, delay time.Duration, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		chats:  make(map[string]*fakeChat),
		debug:  debug,
		delay:  delay,
		now:    time.Now,
		logger: logger.With("component", "fake-backend"),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chats", s.handleCreate)
	mux.HandleFunc("GET /api/chats", s.handleList)
	mux.HandleFunc("PATCH /api/chats/{id}/title", s.handleRename)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /api/chats/{id}/analysis", s.handleAnalysis)
	mux.HandleFunc("POST /api/chats/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/chats/{id}/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *server) lookup(id string) (*fakeChat, bool) {
	c, ok := s.chats[id]
	return c, ok
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = defaultTitle
	}

	now := s.now().UTC()
	c := &fakeChat{conv: chat.Conversation{
		ID:        uuid.NewString(),
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	s.mu.Lock()
	s.chats[c.conv.ID] = c
	s.mu.Unlock()

	s.logger.Info("chat created", "id", c.conv.ID, "title", c.conv.Title)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         c.conv.ID,
		"title":      c.conv.Title,
		"created_at": c.conv.CreatedAt,
	})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	convs := make([]chat.Conversation, 0, len(s.chats))
	for _, c := range s.chats {
		convs = append(convs, c.conv)
	}
	s.mu.Unlock()

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, convs)
}

func (s *server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if n := utf8.RuneCountInString(req.Title); n < 1 || n > maxTitleLength {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("title must be 1-%d characters", maxTitleLength))
		return
	}

	s.mu.Lock()
	c, ok := s.lookup(r.PathValue("id"))
	if ok {
		c.conv.Title = req.Title
		c.conv.UpdatedAt = s.now().UTC()
	}
	var conv chat.Conversation
	if ok {
		conv = c.conv
	}
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.lookup(id)
	delete(s.chats, id)
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat not found")
		return
	}
	s.logger.Info("chat deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.lookup(r.PathValue("id"))
	var msgs []chat.Message
	if ok {
		msgs = append([]chat.Message{}, c.messages...)
	}
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	c, ok := s.lookup(id)
	var count int
	var firstUser string
	var created time.Time
	if ok {
		count = len(c.messages)
		created = c.conv.CreatedAt
		for _, m := range c.messages {
			if m.Role == chat.RoleUser {
				firstUser = m.Content
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat not found")
		return
	}

	resp := map[string]any{
		"buyer_persona":        nil,
		"has_buyer_persona":    false,
		"has_forum_simulation": false,
		"has_pain_points":      false,
		"has_customer_journey": false,
	}
	if count >= 2 {
		resp["buyer_persona"] = map[string]any{
			"id":                uuid.NewString(),
			"chat_id":           id,
			"project_id":        "fake-project",
			"initial_questions": map[string]any{"first_message": firstUser},
			"full_analysis":     map[string]any{"message_count": count},
			"forum_simulation":  map[string]any{},
			"pain_points":       map[string]any{},
			"customer_journey":  map[string]any{},
			"created_at":        created,
		}
		resp["has_buyer_persona"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	Attachment string `json:"attachment_content"`
}

func validateSend(req sendRequest) string {
	n := utf8.RuneCountInString(req.Content)
	switch {
	case n < 1:
		return "content must not be empty"
	case n > maxContentLength:
		return fmt.Sprintf("content must be at most %d characters", maxContentLength)
	case utf8.RuneCountInString(req.Attachment) > maxAttachmentLength:
		return fmt.Sprintf("attachment_content must be at most %d characters", maxAttachmentLength)
	}
	return ""
}

// accept records the user message and returns the scripted reply.
func (s *server) accept(id string, req sendRequest) (*reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookup(id)
	if !ok {
		return nil, false
	}
	now := s.now().UTC()
	c.messages = append(c.messages, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   req.Content,
		CreatedAt: now,
	})
	c.conv.UpdatedAt = now
	return script(req, s.debug), true
}

// persist stores the assistant's final text once a reply completed.
func (s *server) persist(id, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookup(id)
	if !ok {
		return
	}
	c.messages = append(c.messages, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: s.now().UTC(),
	})
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if msg := validateSend(req); msg != "" {
		writeDetail(w, http.StatusUnprocessableEntity, msg)
		return
	}

	rep, ok := s.accept(id, req)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.logger.Info("streaming reply", "chat_id", id, "transport", "sse", "frames", len(rep.frames))
	for _, frame := range rep.frames {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			return
		}
		flusher.Flush()
		if !s.pause(r) {
			return
		}
	}

	if rep.complete {
		s.persist(id, rep.content)
		fmt.Fprintf(w, "data: %s\n\n", doneFrame)
		flusher.Flush()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local test server
	},
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.lookup(id)
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req sendRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Warn("invalid websocket request", "error", err)
		return
	}
	if msg := validateSend(req); msg != "" {
		frame, _ := json.Marshal(map[string]string{"type": "error", "content": msg})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		closeNormal(conn)
		return
	}

	rep, ok := s.accept(id, req)
	if !ok {
		return
	}

	s.logger.Info("streaming reply", "chat_id", id, "transport", "websocket", "frames", len(rep.frames))
	for _, frame := range rep.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		if !s.pause(r) {
			return
		}
	}

	if rep.dropped {
		// No close frame: the client sees a lost connection.
		return
	}
	if rep.complete {
		s.persist(id, rep.content)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(doneFrame)); err != nil {
			return
		}
	}
	closeNormal(conn)
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// pause waits between frames. Returns false if the client went away.
func (s *server) pause(r *http.Request) bool {
	if s.delay <= 0 {
		return true
	}
	select {
	case <-r.Context().Done():
		return false
	case <-time.After(s.delay):
		return true
	}
}
