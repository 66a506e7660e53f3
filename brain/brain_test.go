package brain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/llm"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"
	"github.com/zbcjackson/tank-server/session"
	"github.com/zbcjackson/tank-server/tools"
	"github.com/zbcjackson/tank-server/tts"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider replays one pre-scripted stream per call to Stream, in order.
type fakeProvider struct {
	mu      sync.Mutex
	streams [][]llm.StreamChunk
	calls   int
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	out := make(chan llm.StreamChunk)
	var chunks []llm.StreamChunk
	if idx < len(f.streams) {
		chunks = f.streams[idx]
	}
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}

type blockingProvider struct{}

func (blockingProvider) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)
	return out, nil
}

func newTestSession(t *testing.T) *session.Session {
	cfg := &config.Config{Session: config.SessionConfig{MaxConversationHistory: 20}}
	return session.New(context.Background(), "", "device-1", cfg, zerolog.Nop())
}

func drainFrames(sess *session.Session) []protocol.Frame {
	var out []protocol.Frame
	for {
		select {
		case f := <-sess.Outbound:
			if !f.Binary {
				out = append(out, f.Frame)
			}
		default:
			return out
		}
	}
}

// startTTSDrainer stands in for the TTS worker these unit tests don't
// run: it drains sess.TTSRequests and acks each chunk via
// TTSChunkDrained, which handleTurn's WaitForTTSDrain call now blocks on
// before signalling processing_ended. Call the returned stop func only
// after the Brain run under test has returned, so every chunk it
// enqueued has already passed through here.
func startTTSDrainer(sess *session.Session) func() []model.TTSRequest {
	var mu sync.Mutex
	var reqs []model.TTSRequest
	done := make(chan struct{})
	go func() {
		for {
			select {
			case req := <-sess.TTSRequests:
				mu.Lock()
				reqs = append(reqs, req)
				mu.Unlock()
				sess.TTSChunkDrained()
			case <-done:
				return
			}
		}
	}()
	return func() []model.TTSRequest {
		close(done)
		mu.Lock()
		defer mu.Unlock()
		return append([]model.TTSRequest(nil), reqs...)
	}
}

func TestBrain_SimpleTextTurnEmitsDeltasAndTurnEnd(t *testing.T) {
	provider := &fakeProvider{streams: [][]llm.StreamChunk{
		{
			{ContentDelta: "Hello there."},
			{FinishReason: "stop"},
		},
	}}
	registry := tools.NewRegistry()
	b := New(provider, registry, config.LLMConfig{MaxToolIterations: 3}, 1, model.LanguageZH)
	sess := newTestSession(t)
	stopDrain := startTTSDrainer(sess)

	sess.BrainInput <- session.BrainInputEvent{Text: "hi"}
	close(sess.BrainInput)
	require.NoError(t, b.Run(sess, zerolog.Nop()))

	frames := drainFrames(sess)
	var sawTurnEnd, sawFinalText bool
	var text string
	for _, f := range frames {
		if f.Type == protocol.FrameText {
			text += f.Content
			if f.IsFinal {
				sawFinalText = true
			}
		}
		if f.Type == protocol.FrameUpdate && f.UpdateType == model.UpdateTurnEnd.String() {
			sawTurnEnd = true
		}
	}
	assert.True(t, sawTurnEnd)
	assert.True(t, sawFinalText, "the last text frame for a reply must carry is_final=true")
	assert.Equal(t, "Hello there.", text)

	sentences := stopDrain()
	require.Len(t, sentences, 1)
	assert.Equal(t, "Hello there.", sentences[0].Text)

	items := sess.History.Items()
	require.Len(t, items, 2)
	assert.Equal(t, model.HistoryUser, items[0].Kind)
	assert.Equal(t, model.HistoryAssistant, items[1].Kind)
	assert.Equal(t, "Hello there.", items[1].Text)
}

func TestBrain_ToolCallRoundTripAppendsHistoryAndLoops(t *testing.T) {
	provider := &fakeProvider{streams: [][]llm.StreamChunk{
		{
			{ToolCallIndex: 0, ToolCallID: "call_1", ToolCallName: "calculate", ToolCallArgs: `{"expression":"2+2"}`},
			{FinishReason: "tool_calls"},
		},
		{
			{ContentDelta: "It's 4."},
			{FinishReason: "stop"},
		},
	}}
	registry := tools.NewRegistry()
	registry.Register(tools.CalculatorTool{})
	b := New(provider, registry, config.LLMConfig{MaxToolIterations: 3}, 1, model.LanguageZH)
	sess := newTestSession(t)
	stopDrain := startTTSDrainer(sess)

	sess.BrainInput <- session.BrainInputEvent{Text: "what is 2+2?"}
	close(sess.BrainInput)
	require.NoError(t, b.Run(sess, zerolog.Nop()))
	stopDrain()

	items := sess.History.Items()
	var sawToolCall, sawToolResult bool
	for _, it := range items {
		if it.Kind == model.HistoryToolCall {
			sawToolCall = true
			assert.Equal(t, "call_1", it.ToolCallID)
		}
		if it.Kind == model.HistoryToolResult {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)
	assert.Equal(t, 2, provider.calls)
}

func TestBrain_ExhaustsIterationsWhenModelNeverStops(t *testing.T) {
	alwaysToolCall := []llm.StreamChunk{
		{ToolCallIndex: 0, ToolCallID: "call_x", ToolCallName: "calculate", ToolCallArgs: `{"expression":"1+1"}`},
		{FinishReason: "tool_calls"},
	}
	provider := &fakeProvider{streams: [][]llm.StreamChunk{alwaysToolCall, alwaysToolCall, alwaysToolCall}}
	registry := tools.NewRegistry()
	registry.Register(tools.CalculatorTool{})
	b := New(provider, registry, config.LLMConfig{MaxToolIterations: 3}, 1, model.LanguageZH)
	sess := newTestSession(t)

	sess.BrainInput <- session.BrainInputEvent{Text: "loop forever"}
	close(sess.BrainInput)
	require.NoError(t, b.Run(sess, zerolog.Nop()))

	assert.Equal(t, 3, provider.calls)
	frames := drainFrames(sess)
	var sawTurnEnd bool
	for _, f := range frames {
		if f.Type == protocol.FrameUpdate && f.UpdateType == model.UpdateTurnEnd.String() {
			sawTurnEnd = true
		}
	}
	assert.True(t, sawTurnEnd)
}

func TestBrain_InterruptCancelsInFlightTurn(t *testing.T) {
	b := New(blockingProvider{}, tools.NewRegistry(), config.LLMConfig{MaxToolIterations: 3}, 1, model.LanguageZH)
	sess := newTestSession(t)

	sess.BrainInput <- session.BrainInputEvent{Text: "hang"}

	done := make(chan struct{})
	go func() {
		ev := <-sess.BrainInput
		b.handleTurn(sess, ev, zerolog.Nop())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	sess.Interrupt()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not unwind after interrupt")
	}

	items := sess.History.Items()
	require.NotEmpty(t, items)
	assert.NotEqual(t, model.HistoryToolCall, items[len(items)-1].Kind, "dangling tool call should have been truncated")
}

func TestBrain_SpeaksInTheUserLanguageFallingBackToDefault(t *testing.T) {
	provider := &fakeProvider{streams: [][]llm.StreamChunk{
		{{ContentDelta: "你好。"}, {FinishReason: "stop"}},
		{{ContentDelta: "Hello."}, {FinishReason: "stop"}},
	}}
	registry := tools.NewRegistry()
	b := New(provider, registry, config.LLMConfig{MaxToolIterations: 3}, 1, model.LanguageZH)
	sess := newTestSession(t)
	stopDrain := startTTSDrainer(sess)

	sess.BrainInput <- session.BrainInputEvent{Text: "你好", Language: model.LanguageZH}
	sess.BrainInput <- session.BrainInputEvent{Text: "hi, no language detected yet"}
	close(sess.BrainInput)
	require.NoError(t, b.Run(sess, zerolog.Nop()))

	reqs := stopDrain()
	require.Len(t, reqs, 2)
	assert.Equal(t, model.LanguageZH, reqs[0].Language, "a detected user language must carry through to the TTS voice")
	assert.Equal(t, model.LanguageZH, reqs[1].Language, "with no detected language, the configured default must be used")
}

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(ctx context.Context, req model.TTSRequest) (model.AudioChunk, error) {
	return model.AudioChunk{PCM: []int16{1, 2, 3, 4}, SampleRate: 16000}, nil
}

// TestBrain_ProcessingEndedFollowsAudioOutput runs a real tts.Worker
// alongside Brain, unlike every other test in this file, so the ordering
// between binary audio output and signal:processing_ended is actually
// exercised rather than merely assumed from the enqueue order.
func TestBrain_ProcessingEndedFollowsAudioOutput(t *testing.T) {
	provider := &fakeProvider{streams: [][]llm.StreamChunk{
		{{ContentDelta: "Hello there."}, {FinishReason: "stop"}},
	}}
	registry := tools.NewRegistry()
	b := New(provider, registry, config.LLMConfig{MaxToolIterations: 3}, 1, model.LanguageZH)
	sess := newTestSession(t)

	worker := tts.NewWorker(fakeSynthesizer{}, sess, zerolog.Nop())
	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(workerCtx)

	sess.BrainInput <- session.BrainInputEvent{Text: "hi"}
	close(sess.BrainInput)
	require.NoError(t, b.Run(sess, zerolog.Nop()))

	var sawAudio, endedAfterAudio bool
drain:
	for {
		select {
		case out := <-sess.Outbound:
			if out.Binary {
				sawAudio = true
			} else if out.Frame.Type == protocol.FrameSignal && out.Frame.Reason == "processing_ended" {
				endedAfterAudio = sawAudio
			}
		default:
			break drain
		}
	}

	require.True(t, sawAudio, "expected the TTS worker to have written at least one audio frame")
	assert.True(t, endedAfterAudio, "processing_ended must be enqueued only after audio reached AudioEgress")
}
