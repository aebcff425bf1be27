package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nurture-app/nurture-backend/internal/logger"
)

// bootstrapQuery is sent when a room needs a conversation id and nothing else.
const bootstrapQuery = "__conversation_bootstrap__"

const (
	ResponseModeStreaming = "streaming"
	ResponseModeBlocking  = "blocking"
)

// ChatRequest is the body of POST {base}/chat-messages.
type ChatRequest struct {
	Inputs         map[string]interface{} `json:"inputs"`
	Query          string                 `json:"query"`
	User           string                 `json:"user"`
	ConversationID string                 `json:"conversation_id"`
	ResponseMode   string                 `json:"response_mode"`
	Files          []interface{}          `json:"files"`
}

type ChatUpstreamService interface {
	// StreamChat opens a streaming request. The caller owns the returned body.
	StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
	FetchConversationID(ctx context.Context, user string, inputs map[string]interface{}) (string, error)
}

type ChatUpstreamConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds connecting and waiting for response headers. The stream
	// itself is bounded by the request context.
	Timeout time.Duration
}

type chatUpstreamService struct {
	log     *logger.Logger
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewChatUpstreamService(log *logger.Logger, cfg ChatUpstreamConfig) (ChatUpstreamService, error) {
	serviceLog := log.With("service", "ChatUpstreamService")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing CHAT_API_URL environment variable")
	}
	if cfg.APIKey == "" {
		serviceLog.Warn("CHAT_API_KEY not set; calls might fail or be unauthorized")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	return &chatUpstreamService{
		log:     serviceLog,
		client:  &http.Client{Transport: transport},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}, nil
}

func (cu *chatUpstreamService) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	req.ResponseMode = ResponseModeStreaming
	if req.Inputs == nil {
		req.Inputs = map[string]interface{}{}
	}
	if req.Files == nil {
		req.Files = []interface{}{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cu.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		cu.log.Warn("failed to build new request", "error", err)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if cu.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cu.apiKey)
	}

	resp, err := cu.client.Do(httpReq)
	if err != nil {
		cu.log.Warn("failed to call chat API", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := upstreamErrorMessage(bodyBytes)
		cu.log.Warn("chat API responded with non-2xx", "statusCode", resp.StatusCode, "body", msg)
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	return resp.Body, nil
}

// FetchConversationID sends the bootstrap query and reads only until a payload
// names the conversation. The rest of the stream is abandoned.
func (cu *chatUpstreamService) FetchConversationID(ctx context.Context, user string, inputs map[string]interface{}) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := cu.StreamChat(ctx, ChatRequest{Inputs: inputs, Query: bootstrapQuery, User: user})
	if err != nil {
		return "", err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var p struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(line[len("data:"):])), &p); err != nil {
			continue
		}
		if p.ConversationID != "" {
			cu.log.Debug("Conversation id received", "conversationID", p.ConversationID)
			return p.ConversationID, nil
		}
	}
	if err := scanner.Err(); err != nil {
		cu.log.Warn("failed reading bootstrap stream", "error", err)
		return "", fmt.Errorf("%w: %v", ErrConversationIDMissing, err)
	}
	return "", ErrConversationIDMissing
}

// upstreamErrorMessage pulls a message out of a JSON error body, falling back
// to the raw text.
func upstreamErrorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		case parsed.Code != "":
			return parsed.Code
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	return text
}
