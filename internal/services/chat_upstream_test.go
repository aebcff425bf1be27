package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nurture-app/nurture-backend/internal/logger"
)

func newTestUpstream(t *testing.T, h http.HandlerFunc) ChatUpstreamService {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	up, err := NewChatUpstreamService(logger.NewNop(), ChatUpstreamConfig{BaseURL: srv.URL + "/v1/", APIKey: "app-key", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return up
}

func TestNewChatUpstreamRequiresBaseURL(t *testing.T) {
	if _, err := NewChatUpstreamService(logger.NewNop(), ChatUpstreamConfig{}); err == nil {
		t.Fatal("expected error for missing base url")
	}
}

func TestStreamChatSendsStreamingRequest(t *testing.T) {
	var got ChatRequest
	var auth, path string
	up := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"event\":\"message\",\"answer\":\"hi\"}\n\n")
	})

	body, err := up.StreamChat(context.Background(), ChatRequest{Query: "Is coffee ok?", User: "u-1", ConversationID: "c-1"})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)

	if path != "/v1/chat-messages" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer app-key" {
		t.Errorf("authorization = %q", auth)
	}
	if got.ResponseMode != ResponseModeStreaming || got.Query != "Is coffee ok?" || got.ConversationID != "c-1" {
		t.Errorf("request = %+v", got)
	}
	if got.Inputs == nil || got.Files == nil {
		t.Error("inputs and files should be sent as empty values, not null")
	}
	if !strings.Contains(string(raw), `"answer":"hi"`) {
		t.Errorf("body = %q", raw)
	}
}

func TestStreamChatNon2xx(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantMsg     string
	}{
		{name: "json message", contentType: "application/json", body: `{"code":"invalid_param","message":"query is required"}`, wantMsg: "query is required"},
		{name: "json error", contentType: "application/json", body: `{"error":"rate limited"}`, wantMsg: "rate limited"},
		{name: "plain text", contentType: "text/plain", body: "bad gateway\n", wantMsg: "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, tt.body)
			})
			_, err := up.StreamChat(context.Background(), ChatRequest{Query: "q"})
			if !errors.Is(err, ErrUpstream) {
				t.Fatalf("err = %v, want ErrUpstream", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) || !strings.Contains(err.Error(), "502") {
				t.Errorf("err = %q, want it to mention %q and 502", err, tt.wantMsg)
			}
		})
	}
}

func TestFetchConversationIDStopsReading(t *testing.T) {
	released := make(chan struct{})
	var query string
	up := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		query = req.Query
		io.WriteString(w, "event: ping\n\n")
		io.WriteString(w, "data: {\"event\":\"workflow_started\"}\n\n")
		io.WriteString(w, "data: {\"event\":\"message\",\"conversation_id\":\"conv-42\",\"answer\":\"Hel\"}\n\n")
		w.(http.Flusher).Flush()
		// Block until the client goes away.
		<-r.Context().Done()
		close(released)
	})

	id, err := up.FetchConversationID(context.Background(), "u-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "conv-42" {
		t.Errorf("id = %q, want conv-42", id)
	}
	if query != bootstrapQuery {
		t.Errorf("query = %q, want the bootstrap sentinel", query)
	}
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Error("upstream request was not cancelled after the id arrived")
	}
}

func TestFetchConversationIDMissing(t *testing.T) {
	up := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"event\":\"message\",\"answer\":\"no id here\"}\n\ndata: [DONE]\n\n")
	})
	_, err := up.FetchConversationID(context.Background(), "u-1", nil)
	if !errors.Is(err, ErrConversationIDMissing) {
		t.Fatalf("err = %v, want ErrConversationIDMissing", err)
	}
}
