package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/llm"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"
	"github.com/zbcjackson/tank-server/session"
	"github.com/zbcjackson/tank-server/tools"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	transcript model.Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, u model.Utterance) (model.Transcript, error) {
	return f.transcript, f.err
}

type silentProvider struct{}

func (silentProvider) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)
	close(out)
	return out, nil
}

type noopSynth struct{}

func (noopSynth) Synthesize(ctx context.Context, req model.TTSRequest) (model.AudioChunk, error) {
	return model.AudioChunk{}, nil
}

func newTestHandler(frameQueue int) (*Handler, *session.Session) {
	cfg := &config.Config{
		Session: config.SessionConfig{MaxConversationHistory: 20},
		Audio:   config.AudioConfig{SampleRateIn: 16000, PreRollMs: 100, MinSilenceMs: 200, MaxUtteranceMs: 5000, MaxFramesQueue: frameQueue},
	}
	h := New(cfg, &fakeTranscriber{}, silentProvider{}, noopSynth{}, tools.NewRegistry())
	sess := session.New(context.Background(), "", "device-1", cfg, zerolog.Nop())
	return h, sess
}

func loudFrame() model.AudioFrame {
	samples := make([]float32, 160)
	for i := range samples {
		samples[i] = 0.9
	}
	return model.AudioFrame{Samples: samples, SampleRate: 16000}
}

func TestHandler_OnAudioFrameDropsOldestWhenQueueFull(t *testing.T) {
	h, sess := newTestHandler(2)
	defer sess.Close()

	// Register the session state without starting segmentLoop, so nothing
	// drains the queue and a real backlog can build up.
	st := &sessionState{
		frames:    make(chan model.AudioFrame, 2),
		interrupt: make(chan struct{}, 1),
	}
	h.mu.Lock()
	h.states[sess.ID] = st
	h.mu.Unlock()

	for i := 0; i < 5; i++ {
		h.OnAudioFrame(sess, loudFrame())
	}

	assert.Len(t, st.frames, 2, "queue never exceeds its configured capacity")
	assert.NotPanics(t, func() { h.OnAudioFrame(sess, loudFrame()) }, "OnAudioFrame must never block the caller")
}

func TestHandler_OnAudioFrameNoOpBeforeOpen(t *testing.T) {
	h, sess := newTestHandler(4)
	// Never call OnOpen: no sessionState registered yet.
	assert.NotPanics(t, func() { h.OnAudioFrame(sess, loudFrame()) })
}

func TestHandler_InterruptFrameInterruptsSegmenterWithoutPanicking(t *testing.T) {
	h, sess := newTestHandler(16)
	h.OnOpen(sess)
	defer sess.Close()

	for i := 0; i < 3; i++ {
		h.OnAudioFrame(sess, loudFrame())
	}

	assert.NotPanics(t, func() {
		h.OnTextFrame(sess, protocol.Frame{Type: protocol.FrameInterrupt})
	})
	assert.True(t, sess.Context().Err() == nil, "interrupt cancels the turn, not the session")

	h.mu.Lock()
	st := h.states[sess.ID]
	h.mu.Unlock()
	require.NotNil(t, st)
}

func TestHandler_OnOpenEmitsSignalReady(t *testing.T) {
	h, sess := newTestHandler(4)
	h.OnOpen(sess)
	defer sess.Close()

	select {
	case f := <-sess.Outbound:
		require.False(t, f.Binary)
		assert.Equal(t, protocol.FrameSignal, f.Frame.Type)
		assert.Equal(t, "ready", f.Frame.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a signal:ready frame on session open")
	}
}

func TestHandler_SpeechOnsetInterruptsSessionImmediately(t *testing.T) {
	h, sess := newTestHandler(16)
	h.OnOpen(sess)
	defer sess.Close()

	require.Nil(t, sess.InterruptedAt())

	h.OnAudioFrame(sess, loudFrame())

	require.Eventually(t, func() bool {
		return sess.InterruptedAt() != nil
	}, time.Second, 5*time.Millisecond, "speech onset must interrupt the session independent of utterance completion")
}

func TestHandler_HelloRespondsWithAudioParams(t *testing.T) {
	h, sess := newTestHandler(4)
	h.OnTextFrame(sess, protocol.Frame{Type: protocol.FrameHello})

	select {
	case f := <-sess.Outbound:
		require.False(t, f.Binary)
		assert.Equal(t, protocol.FrameHello, f.Frame.Type)
		assert.Equal(t, "pcm16", f.Frame.AudioParams.Format)
	case <-time.After(time.Second):
		t.Fatal("expected a hello response frame")
	}
}

func TestHandler_InputFrameReachesBrainInput(t *testing.T) {
	h, sess := newTestHandler(4)
	h.OnTextFrame(sess, protocol.Frame{Type: protocol.FrameInput, Content: "what time is it"})

	select {
	case ev := <-sess.BrainInput:
		assert.Equal(t, "what time is it", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("expected a BrainInput event")
	}
}

func TestHandler_OnCloseRemovesSessionState(t *testing.T) {
	h, sess := newTestHandler(4)
	h.OnOpen(sess)
	h.OnClose(sess)

	h.mu.Lock()
	_, ok := h.states[sess.ID]
	h.mu.Unlock()
	assert.False(t, ok)
}
