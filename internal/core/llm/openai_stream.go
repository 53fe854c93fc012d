package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/Sunlytics/internal/core"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

// StatusError is returned when the inference service rejects a request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Body)
}

// OpenAIStreamer talks to any OpenAI-compatible /chat/completions endpoint
// and hands back the raw SSE body untouched.
type OpenAIStreamer struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAIStreamer(baseURL, apiKey, model string, httpClient *http.Client) (*OpenAIStreamer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("INFERENCE_URL is empty")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if httpClient == nil {
		// The request context bounds the stream, not a client timeout.
		httpClient = &http.Client{}
	}
	return &OpenAIStreamer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    httpClient,
	}, nil
}

func (o *OpenAIStreamer) Name() string { return "openai" }

func (o *OpenAIStreamer) StreamCompletion(ctx context.Context, req core.CompletionRequest) (io.ReadCloser, error) {
	body := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    req.Tools,
		Stream:   true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call inference service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp.Body, nil
}

func toOpenAIMessages(msgs []models.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		switch role {
		case models.RoleAgent:
			role = openai.ChatMessageRoleAssistant
		case models.RoleError, models.RoleTool:
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

var _ core.CompletionProvider = (*OpenAIStreamer)(nil)
