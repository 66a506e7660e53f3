// Package llm defines the streaming chat-completion interface Brain
// depends on and an HTTP implementation against an OpenAI-compatible
// endpoint. The Provider/ChatRequest/StreamChunk shape is grounded on
// BaSui01-agentflow/llm/provider.go's Provider interface; the streaming
// read loop (line-delimited chunks, tool-call argument accumulation by
// index, a terminal chunk carrying usage) generalizes the teacher's
// ProcessLLM (utils/llm/llm.go) from a bespoke status/chunk/complete
// sidecar protocol to the OpenAI SSE delta format the original Python
// project's LLM.chat_stream wraps (tank/backend/src/tank_backend/llm/llm.py).
package llm

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

	"github.com/zbcjackson/tank-server/apperr"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/tools"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in the chat transcript sent to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest is one turn's worth of context sent to the model.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []tools.Info
	Temperature float64
	MaxTokens   int
}

// Usage reports best-effort token accounting (spec §9: observability
// only, never load-bearing for history eviction).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamChunk is one increment of a streamed chat completion: either a
// content delta, a tool-call fragment, or (on the final chunk) usage and
// a finish reason.
type StreamChunk struct {
	ContentDelta string

	ToolCallIndex int
	ToolCallID    string
	ToolCallName  string
	ToolCallArgs  string // incremental fragment, accumulate by index

	FinishReason string // "" | "stop" | "tool_calls" | "length"
	Usage        *Usage
	Err          error
}

// Provider streams a chat completion.
type Provider interface {
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// HTTPProvider talks to an OpenAI-compatible /chat/completions endpoint
// with stream=true.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPProvider builds a Provider from LLM configuration.
func NewHTTPProvider(cfg config.LLMConfig) *HTTPProvider {
	timeout := cfg.InactivityTimeoutS
	if timeout <= 0 {
		timeout = 60
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string      `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Stream issues the streaming chat completion request and returns a
// channel of StreamChunk, closed when the stream ends or ctx is
// cancelled. A terminal error is delivered as a single StreamChunk with
// Err set before the channel closes.
func (p *HTTPProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body := toWireRequest(req)
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.New(apperr.KindLLM, err, "encode chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperr.New(apperr.KindLLM, err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperr.New(apperr.KindLLM, err, apperr.ServiceUnavailableMessage)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, apperr.New(apperr.KindLLM, fmt.Errorf("status %d: %s", resp.StatusCode, b), apperr.ServiceUnavailableMessage)
	}

	out := make(chan StreamChunk, 4)
	go readSSE(ctx, resp.Body, out)
	return out, nil
}

func readSSE(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				out <- StreamChunk{Err: apperr.New(apperr.KindLLM, err, apperr.ServiceUnavailableMessage)}
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		emitChunk(chunk, out)
	}
}

func emitChunk(chunk wireStreamChunk, out chan<- StreamChunk) {
	if chunk.Usage != nil {
		out <- StreamChunk{Usage: &Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}}
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		out <- StreamChunk{ContentDelta: choice.Delta.Content}
	}
	for _, tc := range choice.Delta.ToolCalls {
		out <- StreamChunk{
			ToolCallIndex: tc.Index,
			ToolCallID:    tc.ID,
			ToolCallName:  tc.Function.Name,
			ToolCallArgs:  tc.Function.Arguments,
		}
	}
	if choice.FinishReason != "" {
		out <- StreamChunk{FinishReason: choice.FinishReason}
	}
}

func toWireRequest(req ChatRequest) wireRequest {
	wr := wireRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = toJSONSchema(t.Parameters)
		wr.Tools = append(wr.Tools, wt)
	}
	return wr
}

func toJSONSchema(params []tools.Parameter) map[string]any {
	properties := map[string]any{}
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{"type": "object", "properties": properties, "required": required}
}
