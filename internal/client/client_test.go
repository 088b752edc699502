// ABOUTME: Tests for the backend HTTP client against an httptest server
// ABOUTME: Covers auth headers, expiry checks, status errors, and message mapping

package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "http://example.com", Transport: "carrier-pigeon"})
	assert.Error(t, err)

	c, err := New(Options{BaseURL: "http://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, config.TransportSSE, c.Transport())
	assert.Equal(t, "http://example.com/api/chats/a%2Fb/messages", c.endpoint("api", "chats", "a/b", "messages"))
}

func TestCreateConversation(t *testing.T) {
	var gotAuth string
	var gotBody createRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chats", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         "c-1",
			"title":      gotBody.Title,
			"created_at": "2026-01-02T03:04:05Z",
		})
	})
	c := newTestClient(t, mux, Options{Token: "opaque-token"})

	conv, err := c.CreateConversation(t.Context(), "Hello there")
	require.NoError(t, err)

	assert.Equal(t, "Bearer opaque-token", gotAuth)
	assert.Equal(t, "Hello there", gotBody.Title)
	assert.Equal(t, "c-1", conv.ID)
	assert.Equal(t, "Hello there", conv.Title)
	assert.Equal(t, 2026, conv.CreatedAt.Year())
}

func TestCreateConversation_MissingID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"title": "x"})
	})
	c := newTestClient(t, mux, Options{})

	_, err := c.CreateConversation(t.Context(), "x")
	assert.Error(t, err)
}

func TestListMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c-1", r.PathValue("id"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "u1", "role": "user", "content": "Hello", "metadata": map[string]string{}, "created_at": "2026-01-02T03:04:05Z"},
			{"id": "a1", "role": "assistant", "content": "Hi", "created_at": "2026-01-02T03:04:06Z"},
		})
	})
	c := newTestClient(t, mux, Options{})

	msgs, err := c.ListMessages(t.Context(), "c-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "u1", msgs[0].ID)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, chat.StateConfirmed, msgs[0].State)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
}

func TestConversationCRUD(t *testing.T) {
	var deleted, renamed string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "c-1", "title": "one", "created_at": "2026-01-02T03:04:05Z", "updated_at": "2026-01-02T03:04:05Z"},
			{"id": "c-2", "title": "two", "created_at": "2026-01-03T03:04:05Z", "updated_at": "2026-01-03T03:04:05Z"},
		})
	})
	mux.HandleFunc("PATCH /api/chats/{id}/title", func(w http.ResponseWriter, r *http.Request) {
		var body renameRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		renamed = body.Title
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "title": body.Title})
	})
	mux.HandleFunc("DELETE /api/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux, Options{})

	convs, err := c.ListConversations(t.Context())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "two", convs[1].Title)

	conv, err := c.RenameConversation(t.Context(), "c-1", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", conv.Title)
	assert.Equal(t, "renamed", renamed)

	require.NoError(t, c.DeleteConversation(t.Context(), "c-2"))
	assert.Equal(t, "c-2", deleted)
}

func TestGetConversationAnalysis(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats/{id}/analysis", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"buyer_persona": map[string]any{
				"id":            "p-1",
				"chat_id":       r.PathValue("id"),
				"full_analysis": map[string]any{"age": 34},
				"created_at":    "2026-01-02T03:04:05Z",
			},
			"has_buyer_persona":    true,
			"has_forum_simulation": false,
			"has_pain_points":      true,
			"has_customer_journey": false,
		})
	})
	c := newTestClient(t, mux, Options{})

	a, err := c.GetConversationAnalysis(t.Context(), "c-9")
	require.NoError(t, err)
	assert.True(t, a.HasPersona)
	assert.True(t, a.HasPainPoints)
	assert.False(t, a.HasCustomerJourney)
	require.NotNil(t, a.Persona)
	assert.Equal(t, "c-9", a.Persona.ConversationID)
	assert.JSONEq(t, `{"age":34}`, string(a.Persona.FullAnalysis))
}

func TestStatusErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "missing":
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Chat not found"})
		case "forbidden":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad token"})
		case "validation":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"msg": "too long"}}})
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	c := newTestClient(t, mux, Options{})

	_, err := c.ListMessages(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "Chat not found", statusErr.Message)

	_, err = c.ListMessages(t.Context(), "forbidden")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "bad token")

	_, err = c.ListMessages(t.Context(), "validation")
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
	assert.Contains(t, statusErr.Message, "too long")

	_, err = c.ListMessages(t.Context(), "other")
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "boom", statusErr.Message)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestExpiredTokenRejectedLocally(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	token, err := auth.NewJWTVerifier([]byte("secret")).Generate("user-1", -time.Minute)
	require.NoError(t, err)
	c := newTestClient(t, mux, Options{Token: token})

	_, err = c.ListConversations(t.Context())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
	assert.False(t, called, "request should not reach the server")
}

func TestRequestTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := newTestClient(t, mux, Options{RequestTimeout: 50 * time.Millisecond})

	_, err := c.ListConversations(t.Context())
	assert.Error(t, err)
}
