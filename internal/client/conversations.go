// ABOUTME: Conversation CRUD and history calls against /api/chats
// ABOUTME: Maps backend JSON records onto chat.Conversation and chat.Message

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/chat"
)

type createRequest struct {
	Title string `json:"title"`
}

type renameRequest struct {
	Title string `json:"title"`
}

// wireMessage is a message as the backend returns it. Metadata is ignored.
type wireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateConversation creates a conversation and returns it.
func (c *Client) CreateConversation(ctx context.Context, title string) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.do(ctx, http.MethodPost, c.endpoint("api", "chats"), createRequest{Title: title}, &conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("creating conversation: backend returned no id")
	}
	c.logger.Debug("conversation created", "conversation_id", conv.ID, "title", conv.Title)
	return &conv, nil
}

// ListConversations returns the caller's conversations in backend order.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "chats"), nil, &convs); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// RenameConversation changes a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.do(ctx, http.MethodPatch, c.endpoint("api", "chats", id, "title"), renameRequest{Title: title}, &conv); err != nil {
		return nil, fmt.Errorf("renaming conversation %s: %w", id, err)
	}
	return &conv, nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.endpoint("api", "chats", id), nil, nil); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// ListMessages returns the authoritative history of a conversation in
// ascending creation order. Every returned message is confirmed.
func (c *Client) ListMessages(ctx context.Context, id string) ([]chat.Message, error) {
	var wire []wireMessage
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "chats", id, "messages"), nil, &wire); err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", id, err)
	}

	msgs := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, chat.Message{
			ID:        w.ID,
			Role:      chat.Role(w.Role),
			Content:   w.Content,
			CreatedAt: w.CreatedAt,
			State:     chat.StateConfirmed,
		})
	}
	return msgs, nil
}

// Analysis is the read-only analysis record attached to a conversation.
type Analysis struct {
	Persona            *Persona `json:"buyer_persona"`
	HasPersona         bool     `json:"has_buyer_persona"`
	HasForumSimulation bool     `json:"has_forum_simulation"`
	HasPainPoints      bool     `json:"has_pain_points"`
	HasCustomerJourney bool     `json:"has_customer_journey"`
}

// Persona holds the generated analysis documents. Each section is opaque JSON.
type Persona struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"chat_id"`
	ProjectID        string          `json:"project_id"`
	InitialQuestions json.RawMessage `json:"initial_questions"`
	FullAnalysis     json.RawMessage `json:"full_analysis"`
	ForumSimulation  json.RawMessage `json:"forum_simulation"`
	PainPoints       json.RawMessage `json:"pain_points"`
	CustomerJourney  json.RawMessage `json:"customer_journey"`
	CreatedAt        time.Time       `json:"created_at"`
}

// GetConversationAnalysis fetches the analysis record for a conversation.
func (c *Client) GetConversationAnalysis(ctx context.Context, id string) (*Analysis, error) {
	var a Analysis
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "chats", id, "analysis"), nil, &a); err != nil {
		return nil, fmt.Errorf("fetching analysis for %s: %w", id, err)
	}
	return &a, nil
}
