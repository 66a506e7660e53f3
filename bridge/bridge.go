// Package bridge wires one WebSocket session's inbound audio/control
// frames into the segmenter → ASR → Brain → TTS pipeline, implementing
// transport.SessionHandler. Generalized from the teacher's
// handle.HandleWebSocket, which inlined this wiring directly into the
// connection handler; here it is split out so transport stays a plain
// duplex pump and the pipeline wiring is independently testable.
package bridge

import (
	"sync"
	"time"

	"github.com/zbcjackson/tank-server/asr"
	"github.com/zbcjackson/tank-server/audio"
	"github.com/zbcjackson/tank-server/brain"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/llm"
	"github.com/zbcjackson/tank-server/metrics"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"
	"github.com/zbcjackson/tank-server/session"
	"github.com/zbcjackson/tank-server/tools"
	"github.com/zbcjackson/tank-server/tts"
	"github.com/zbcjackson/tank-server/vad"

	"github.com/rs/zerolog"
)

// Handler ties the shared, stateless adapters (ASR/LLM/TTS/tools) to
// each session's own segmenter and reasoning loop.
type Handler struct {
	cfg         *config.Config
	transcriber asr.Transcriber
	provider    llm.Provider
	synth       tts.Synthesizer
	registry    *tools.Registry

	mu     sync.Mutex
	states map[string]*sessionState
}

type sessionState struct {
	seg       *audio.Segmenter
	frames    chan model.AudioFrame
	interrupt chan struct{}
}

// New builds a Handler sharing one set of adapters across every session.
func New(cfg *config.Config, transcriber asr.Transcriber, provider llm.Provider, synth tts.Synthesizer, registry *tools.Registry) *Handler {
	return &Handler{
		cfg:         cfg,
		transcriber: transcriber,
		provider:    provider,
		synth:       synth,
		registry:    registry,
		states:      make(map[string]*sessionState),
	}
}

// OnOpen starts the session's Brain and TTS playback goroutines and
// allocates its segmenter.
func (h *Handler) OnOpen(sess *session.Session) {
	detector := vad.NewEnergyDetector(0)
	seg := audio.NewSegmenter(detector, sess.Cfg.Audio)
	st := &sessionState{
		seg:       seg,
		frames:    make(chan model.AudioFrame, sess.Cfg.Audio.MaxFramesQueue),
		interrupt: make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.states[sess.ID] = st
	h.mu.Unlock()

	b := brain.New(h.provider, h.registry, h.cfg.LLM, h.cfg.TTS.MinChunkChars, model.ParseLanguage(h.cfg.TTS.DefaultLanguage))
	worker := tts.NewWorker(h.synth, sess, sess.Log)

	sess.Go(func() error { return b.Run(sess, sess.Log) })
	sess.Go(func() error { return worker.Run(sess.Context()) })
	sess.Go(func() error { h.segmentLoop(sess, st); return nil })

	sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameSignal, Reason: "ready"})
}

// segmentLoop drains the session's inbound audio queue and feeds frames
// through the segmenter one at a time, decoupling the WebSocket read
// pump from segmentation and ASR dispatch latency (spec §5 backpressure:
// drop-oldest on the bounded queue itself, capped by
// config.AudioConfig.MaxFramesQueue). Interrupts arrive on their own
// channel so they serialize against PushFrame instead of racing it from
// another goroutine. Speech onset cancels any in-flight turn immediately,
// independent of utterance completion, so barge-in is not delayed by the
// end-of-utterance silence timer (spec §4.3/§9).
func (h *Handler) segmentLoop(sess *session.Session, st *sessionState) {
	for {
		select {
		case <-sess.Context().Done():
			return
		case <-st.interrupt:
			st.seg.Interrupt()
		case frame, ok := <-st.frames:
			if !ok {
				return
			}
			utterance, ok, onset := st.seg.PushFrame(frame)
			if onset {
				sess.Interrupt()
			}
			if !ok {
				continue
			}
			metrics.UtterancesSegmented.Inc()
			sess.Go(func() error {
				h.transcribeAndDispatch(sess, utterance)
				return nil
			})
		}
	}
}

// OnClose releases the session's segmenter state.
func (h *Handler) OnClose(sess *session.Session) {
	h.mu.Lock()
	delete(h.states, sess.ID)
	h.mu.Unlock()
}

// OnAudioFrame queues one decoded frame for segmentation. It never blocks
// the caller (the WebSocket read pump): once the queue is full the oldest
// queued frame is dropped to make room, the same backpressure policy
// session.Session.Enqueue applies to outbound frames.
func (h *Handler) OnAudioFrame(sess *session.Session, frame model.AudioFrame) {
	h.mu.Lock()
	st := h.states[sess.ID]
	h.mu.Unlock()
	if st == nil {
		return
	}

	select {
	case st.frames <- frame:
		return
	default:
	}
	select {
	case <-st.frames:
		metrics.DroppedFrames.WithLabelValues("inbound_audio").Inc()
	default:
	}
	select {
	case st.frames <- frame:
	default:
	}
}

func (h *Handler) signalSegmenterInterrupt(sess *session.Session) {
	h.mu.Lock()
	st := h.states[sess.ID]
	h.mu.Unlock()
	if st == nil {
		return
	}
	select {
	case st.interrupt <- struct{}{}:
	default:
	}
}

func (h *Handler) transcribeAndDispatch(sess *session.Session, utterance model.Utterance) {
	start := time.Now()
	transcript, err := h.transcriber.Transcribe(sess.Context(), utterance)
	metrics.ASRLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		sess.Log.Warn().Err(err).Msg("asr transport failure")
		return
	}
	if transcript.Err != nil {
		sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameTranscript, ErrorKind: transcript.Err.Kind})
		return
	}
	if transcript.Text == "" {
		return
	}

	sess.EnqueueFrame(protocol.Frame{
		Type:       protocol.FrameTranscript,
		Text:       transcript.Text,
		Language:   string(transcript.Language),
		Confidence: transcript.Confidence,
		IsFinal:    transcript.IsFinal,
	})
	sess.BrainInput <- session.BrainInputEvent{Text: transcript.Text, Language: transcript.Language}
}

// OnTextFrame handles the control-frame side of the protocol: hello
// handshake, listen-mode changes, explicit interrupt, IoT state reports,
// and free-text input that bypasses ASR entirely.
func (h *Handler) OnTextFrame(sess *session.Session, f protocol.Frame) {
	switch f.Type {
	case protocol.FrameHello:
		sess.EnqueueFrame(protocol.Frame{
			Type:    protocol.FrameHello,
			Version: 1,
			AudioParams: protocol.AudioParams{
				Format:     "pcm16",
				SampleRate: sess.Cfg.Audio.SampleRateOut,
				Channels:   1,
			},
		})

	case protocol.FrameListen:
		sess.ListenMode = f.Mode
		if f.State == "stop" {
			h.signalSegmenterInterrupt(sess)
		}

	case protocol.FrameInterrupt:
		sess.Interrupt()
		h.signalSegmenterInterrupt(sess)

	case protocol.FrameInput:
		sess.BrainInput <- session.BrainInputEvent{Text: f.Content}

	case protocol.FrameIoT:
		sess.Log.Debug().Interface("description", f.Description).Interface("states", f.States).Msg("iot report")

	default:
		sess.Log.Debug().Str("type", string(f.Type)).Msg("unhandled control frame")
	}
}
