// Package brain runs the reasoning-with-tools loop: stream the model's
// response, segment assistant text into speakable sentences for TTS,
// accumulate and execute tool calls, and loop until the model stops
// calling tools or the turn hits its iteration bound. Grounded on the
// original Python project's Brain.handle/_process_stream
// (tank/backend/src/tank_backend/core/brain.py) for the turn structure
// (processing_started/processing_ended around the stream, history
// append-then-trim, BrainInterrupted on cancellation) and on
// LLM.chat_stream (llm/llm.py) for the THOUGHT/TEXT/TOOL_CALL/
// TOOL_RESULT update sequence, re-expressed as the session's BrainInput/
// TTSRequests channels and BrainUpdate frames instead of asyncio
// generators and dataclasses.
package brain

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/zbcjackson/tank-server/apperr"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/llm"
	"github.com/zbcjackson/tank-server/metrics"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"
	"github.com/zbcjackson/tank-server/session"
	"github.com/zbcjackson/tank-server/tools"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Brain owns the LLM provider and tool registry shared across a
// session's turns.
type Brain struct {
	provider    llm.Provider
	registry    *tools.Registry
	cfg         config.LLMConfig
	chunkCfg    int // min chunk chars for sentence segmentation
	defaultLang model.Language
	tokens      *tokenCounter
}

// New builds a Brain bound to provider and registry. defaultLang is the
// TTS voice language used when a turn carries no detected/user language
// (spec §4.5 "Language selection").
func New(provider llm.Provider, registry *tools.Registry, cfg config.LLMConfig, minChunkChars int, defaultLang model.Language) *Brain {
	return &Brain{provider: provider, registry: registry, cfg: cfg, chunkCfg: minChunkChars, defaultLang: defaultLang, tokens: newTokenCounter()}
}

type pendingToolCall struct {
	id   string
	name string
	args string
}

// Run drains sess.BrainInput, handling each turn in sequence, until the
// session context is cancelled.
func (b *Brain) Run(sess *session.Session, log zerolog.Logger) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case ev, ok := <-sess.BrainInput:
			if !ok {
				return nil
			}
			b.handleTurn(sess, ev, log)
		}
	}
}

func (b *Brain) handleTurn(sess *session.Session, ev session.BrainInputEvent, log zerolog.Logger) {
	turnCtx, turnID := sess.BeginTurn()
	msgID := "assistant_" + uuid.NewString()[:8]

	lang := ev.Language
	if lang == "" || lang == model.LanguageUnknown {
		lang = b.defaultLang
	}

	sess.History.Append(model.UserItem(ev.Text))
	sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameSignal, Reason: "processing_started", MsgID: msgID})

	err := b.reason(turnCtx, sess, msgID, int(turnID), lang, log)

	// signal:processing_ended must follow the turn's audio output, not
	// merely the text that produced it (spec §4.5 step 7) — unless the
	// turn was cancelled, in which case it fires immediately.
	if err == nil {
		sess.WaitForTTSDrain(turnCtx)
	}
	sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameSignal, Reason: "processing_ended", MsgID: msgID})

	switch {
	case err == nil:
		metrics.TurnsTotal.WithLabelValues("complete").Inc()
	case errors.Is(err, context.Canceled):
		sess.History.TruncateDanglingToolCall()
		metrics.TurnsTotal.WithLabelValues("interrupted").Inc()
		log.Debug().Str("msg_id", msgID).Msg("turn interrupted")
	default:
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("msg_id", msgID).Msg("turn failed")
		sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameError, MsgID: msgID, Message: errorMessage(err)})
	}
}

func (b *Brain) reason(ctx context.Context, sess *session.Session, msgID string, turnID int, lang model.Language, log zerolog.Logger) error {
	chunker := NewSentenceChunker(b.chunkCfg)
	maxIterations := b.cfg.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = 5
	}

	for iter := 0; iter < maxIterations; iter++ {
		turn := turnID*100 + iter
		assistantText, toolCalls, finish, err := b.streamOnce(ctx, sess, msgID, turn, lang, chunker, log)
		if err != nil {
			return err
		}

		if len(toolCalls) == 0 || finish != "tool_calls" {
			for _, s := range chunker.Flush() {
				b.speak(ctx, sess, msgID, lang, s)
			}
			if assistantText != "" {
				sess.History.Append(model.AssistantItem(assistantText))
			}
			sess.EnqueueFrame(toTextFrame(msgID, turn, "", true))
			sess.EnqueueFrame(toUpdateFrame(model.TurnEndUpdate(msgID, turn)))
			return nil
		}

		if assistantText != "" {
			sess.History.Append(model.AssistantItem(assistantText))
		}
		b.runTools(ctx, sess, msgID, turn, toolCalls, log)
	}

	metrics.ToolIterationsExhausted.Inc()
	for _, s := range chunker.Flush() {
		b.speak(ctx, sess, msgID, lang, s)
	}
	lastTurn := turnID*100 + maxIterations - 1
	sess.EnqueueFrame(toTextFrame(msgID, lastTurn, "", true))
	sess.EnqueueFrame(toUpdateFrame(model.TurnEndUpdate(msgID, lastTurn)))
	return nil
}

func (b *Brain) streamOnce(ctx context.Context, sess *session.Session, msgID string, turn int, lang model.Language, chunker *SentenceChunker, log zerolog.Logger) (string, []pendingToolCall, string, error) {
	req := llm.ChatRequest{
		Model:       b.cfg.Model,
		Messages:    buildMessages(sess.History, b.cfg.SystemPrompt),
		Tools:       b.registry.List(),
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	}

	stream, err := b.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, "", err
	}

	var assistantText string
	calls := map[int]*pendingToolCall{}
	var order []int
	var finish string
	start := time.Now()
	firstToken := true

streamLoop:
	for {
		var chunk llm.StreamChunk
		var ok bool
		select {
		case <-ctx.Done():
			return assistantText, flattenCalls(calls, order), finish, context.Canceled
		case chunk, ok = <-stream:
			if !ok {
				break streamLoop
			}
		}
		if chunk.Err != nil {
			return assistantText, flattenCalls(calls, order), finish, chunk.Err
		}

		if chunk.ContentDelta != "" {
			if firstToken {
				metrics.LLMFirstTokenSeconds.Observe(time.Since(start).Seconds())
				firstToken = false
			}
			assistantText += chunk.ContentDelta
			sess.EnqueueFrame(toTextFrame(msgID, turn, chunk.ContentDelta, false))
			for _, s := range chunker.Push(chunk.ContentDelta) {
				b.speak(ctx, sess, msgID, lang, s)
			}
		}

		if chunk.ToolCallID != "" || chunk.ToolCallName != "" || chunk.ToolCallArgs != "" {
			pc, exists := calls[chunk.ToolCallIndex]
			if !exists {
				pc = &pendingToolCall{}
				calls[chunk.ToolCallIndex] = pc
				order = append(order, chunk.ToolCallIndex)
				sess.EnqueueFrame(toUpdateFrame(model.ToolCallStartUpdate(msgID, turn, chunk.ToolCallIndex, chunk.ToolCallName, "")))
			}
			if chunk.ToolCallID != "" {
				pc.id = chunk.ToolCallID
			}
			if chunk.ToolCallName != "" {
				pc.name = chunk.ToolCallName
			}
			if chunk.ToolCallArgs != "" {
				pc.args += chunk.ToolCallArgs
				sess.EnqueueFrame(toUpdateFrame(model.ToolCallArgsDeltaUpdate(msgID, turn, chunk.ToolCallIndex, chunk.ToolCallArgs)))
			}
		}

		if chunk.Usage != nil {
			metrics.TokensTotal.WithLabelValues("prompt").Add(float64(chunk.Usage.PromptTokens))
			metrics.TokensTotal.WithLabelValues("completion").Add(float64(chunk.Usage.CompletionTokens))
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if promptTokens := b.tokens.count(assistantText); promptTokens > 0 {
		log.Debug().Int("completion_tokens_est", promptTokens).Str("msg_id", msgID).Msg("turn token estimate")
	}

	return assistantText, flattenCalls(calls, order), finish, nil
}

func flattenCalls(calls map[int]*pendingToolCall, order []int) []pendingToolCall {
	sort.Ints(order)
	out := make([]pendingToolCall, 0, len(order))
	seen := map[int]bool{}
	for _, idx := range order {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, *calls[idx])
	}
	return out
}

func (b *Brain) runTools(ctx context.Context, sess *session.Session, msgID string, turn int, calls []pendingToolCall, log zerolog.Logger) {
	toolCtx := ctx
	if b.cfg.ToolTimeoutS > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, time.Duration(b.cfg.ToolTimeoutS)*time.Second)
		defer cancel()
	}

	for i, tc := range calls {
		sess.EnqueueFrame(toUpdateFrame(model.ToolCallEndUpdate(msgID, turn, i, tc.name, model.ToolStatusExecuting)))

		result, err := b.registry.Execute(toolCtx, tc.name, tc.args)
		status := model.ToolStatusSuccess
		outcome := "success"
		if err != nil {
			status = model.ToolStatusError
			outcome = "error"
			log.Warn().Err(err).Str("tool", tc.name).Msg("tool execution failed")
		}
		metrics.ToolCallsTotal.WithLabelValues(tc.name, outcome).Inc()

		sess.History.Append(model.ToolCallItem(tc.id, tc.name, tc.args))
		sess.History.Append(model.ToolResultItem(tc.id, result))
		sess.EnqueueFrame(toUpdateFrame(model.ToolResultUpdate(msgID, turn, i, tc.name, result, status)))
	}
}

// speak enqueues one speakable chunk for the TTS worker, carrying the
// turn's language so the reply is voiced correctly (spec §4.5 "Language
// selection") and the turn's own context so a barge-in reaches this
// specific chunk (spec §4.7). The enqueue itself is a suspension point
// and must not block past cancellation (spec §5).
func (b *Brain) speak(ctx context.Context, sess *session.Session, msgID string, lang model.Language, text string) {
	if text == "" {
		return
	}
	select {
	case sess.TTSRequests <- model.TTSRequest{Text: text, MsgID: msgID, Language: lang, Ctx: ctx}:
		sess.TTSChunkQueued()
	case <-ctx.Done():
	}
}

func buildMessages(history *model.History, systemPrompt string) []llm.Message {
	var messages []llm.Message
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, item := range history.Items() {
		switch item.Kind {
		case model.HistoryUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: item.Text})
		case model.HistoryAssistant:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: item.Text})
		case model.HistoryToolCall:
			messages = append(messages, llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:        item.ToolCallID,
					Name:      item.ToolName,
					Arguments: item.ArgumentsRaw,
				}},
			})
		case model.HistoryToolResult:
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: item.Content, ToolCallID: item.ToolResultID})
		}
	}
	return messages
}

// toTextFrame builds the spec's {"type":"text",...} wire frame carrying
// one assistant-text delta, distinct from the update/TEXT projection
// toUpdateFrame no longer produces (spec §6: text and update are
// separate outbound shapes).
func toTextFrame(msgID string, turn int, delta string, isFinal bool) protocol.Frame {
	return protocol.Frame{
		Type:     protocol.FrameText,
		MsgID:    msgID,
		Content:  delta,
		IsFinal:  isFinal,
		Metadata: map[string]string{"turn": strconv.Itoa(turn)},
	}
}

func toUpdateFrame(u model.BrainUpdate) protocol.Frame {
	return protocol.Frame{
		Type:       protocol.FrameUpdate,
		MsgID:      u.MsgID,
		Turn:       u.Turn,
		Index:      u.Index,
		UpdateType: u.Kind.String(),
		Delta:      u.Delta,
		ToolName:   u.ToolName,
		ToolArgs:   u.ArgsDelta + u.ArgsPartial,
		ToolStatus: string(u.Status),
		ToolResult: u.ResultText,
	}
}

func errorMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return apperr.ServiceUnavailableMessage
}
