// Package session owns the per-connection state machine: the outbound
// frame channel, the conversation history, the interruption token, and
// the errgroup that supervises the Brain, TTS worker, and frame writer
// goroutines for one client. Generalized from the teacher's
// WebSocketConnection (AI-for-anyone-lingzhi/golang/websocket/websocket.go),
// whose responseChan/llmChan/ttsChan and per-connection ctx/cancelFunc
// this keeps, and from the cancellation model in tank's
// core/runtime.RuntimeContext (interrupt_event) and core/worker.QueueWorker
// (cancel() re-arming a context each turn).
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/logging"
	"github.com/zbcjackson/tank-server/metrics"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// OutboundFrame is a queued write to the client: either a JSON control
// frame or a raw binary audio payload, mirroring the teacher's
// ResponseMessage{MessageType, Data}.
type OutboundFrame struct {
	Binary bool
	Frame  protocol.Frame
	Audio  []byte
}

// Session holds everything specific to one WebSocket connection.
type Session struct {
	ID       string
	DeviceID string
	Cfg      *config.Config
	Log      zerolog.Logger

	History *model.History

	// Outbound carries frames destined for the client; the frame writer
	// pump is the sole reader. Sized to absorb bursts without blocking
	// producers (spec §5 backpressure: drop-oldest on overflow).
	Outbound chan OutboundFrame

	// BrainInput carries final ASR transcripts and free-text Input frames
	// into the Brain loop.
	BrainInput chan BrainInputEvent

	// TTSRequests carries speakable text chunks from Brain to the TTS
	// worker.
	TTSRequests chan model.TTSRequest

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group

	turnCancel    atomic.Pointer[context.CancelFunc]
	turnMu        sync.Mutex
	turnSeq       int64
	interruptedAt atomic.Pointer[time.Time]

	ttsPending        atomic.Int64
	ttsPendingChanged chan struct{}

	ListenMode string // auto | manual | realtime
}

// BrainInputEvent is one unit of work for the Brain loop: either a final
// transcript from ASR or a client-supplied text Input bypassing ASR.
type BrainInputEvent struct {
	Text     string
	Language model.Language
}

// New creates a Session bound to a cancellable root context derived from
// parent. sessionID is the opaque identifier the client chose (spec §3:
// "Session. Identified by an opaque string chosen by the client."); if
// empty, one is generated so callers that have no client-supplied id
// (tests, internal tooling) still get a valid session. Call Close (or
// cancel parent) to tear every spawned goroutine down.
func New(parent context.Context, sessionID, deviceID string, cfg *config.Config, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s := &Session{
		ID:                sessionID,
		DeviceID:          deviceID,
		Cfg:               cfg,
		History:           model.NewHistory(cfg.Session.MaxConversationHistory),
		Outbound:          make(chan OutboundFrame, 32),
		BrainInput:        make(chan BrainInputEvent, 8),
		TTSRequests:       make(chan model.TTSRequest, 16),
		ttsPendingChanged: make(chan struct{}, 1),
		ctx:               gctx,
		cancel:            cancel,
		group:             group,
		ListenMode:        "auto",
	}
	s.Log = logging.ForSession(log, s.ID)
	return s
}

// Context is the session-scoped context; it is cancelled on Close or
// when any supervised task returns a non-nil error.
func (s *Session) Context() context.Context { return s.ctx }

// Go runs fn under the session's errgroup: the whole session tears down
// if any supervised task fails.
func (s *Session) Go(fn func() error) {
	s.group.Go(fn)
}

// Wait blocks until every task started with Go has returned.
func (s *Session) Wait() error {
	return s.group.Wait()
}

// Close cancels the session context, unblocking every supervised task.
func (s *Session) Close() {
	s.cancel()
}

// BeginTurn allocates a fresh cancellation token for one reasoning turn
// and returns (turnCtx, turnID). The previous turn's token, if any, is
// superseded but not cancelled by this call — callers that want a barge-in
// must call Interrupt first.
func (s *Session) BeginTurn() (context.Context, int64) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.turnSeq++
	turnID := s.turnSeq
	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnCancel.Store(&cancel)
	return turnCtx, turnID
}

// Interrupt cancels the current turn, if any, idempotently. Safe to call
// concurrently and safe to call when no turn is active (spec §4.5: cancel
// must be idempotent and re-armed after each use).
func (s *Session) Interrupt() {
	now := time.Now()
	s.interruptedAt.Store(&now)
	s.turnMu.Lock()
	p := s.turnCancel.Load()
	s.turnMu.Unlock()
	if p == nil {
		return
	}
	(*p)()
}

// InterruptedAt returns the time of the most recent Interrupt call, or
// nil if the session has never been interrupted. Used to measure
// cancel-to-silence latency once playback actually stops.
func (s *Session) InterruptedAt() *time.Time {
	return s.interruptedAt.Load()
}

// TTSChunkQueued records that one more synthesized chunk has been handed
// to the TTS worker and not yet played out, so WaitForTTSDrain can block
// until the backlog it created has actually reached AudioEgress.
func (s *Session) TTSChunkQueued() {
	s.ttsPending.Add(1)
}

// TTSChunkDrained records that the TTS worker finished handling one
// chunk — synthesized and handed to AudioEgress, or dropped because its
// turn was cancelled — and wakes any goroutine blocked in
// WaitForTTSDrain.
func (s *Session) TTSChunkDrained() {
	s.ttsPending.Add(-1)
	select {
	case s.ttsPendingChanged <- struct{}{}:
	default:
	}
}

// WaitForTTSDrain blocks until every TTS chunk queued so far has been
// handed to AudioEgress, or ctx is cancelled. Brain calls this before
// signalling processing_ended so that signal lands after the turn's
// audio output, not merely after its text was enqueued (spec §4.5 step 7).
func (s *Session) WaitForTTSDrain(ctx context.Context) {
	for s.ttsPending.Load() > 0 {
		select {
		case <-s.ttsPendingChanged:
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Enqueue pushes a frame to Outbound, dropping the oldest queued frame
// instead of blocking the caller when the channel is full (spec §5).
func (s *Session) Enqueue(f OutboundFrame) {
	select {
	case s.Outbound <- f:
		return
	default:
	}
	select {
	case <-s.Outbound:
		metrics.DroppedFrames.WithLabelValues("outbound").Inc()
	default:
	}
	select {
	case s.Outbound <- f:
	default:
	}
}

// EnqueueFrame is a convenience wrapper for control frames.
func (s *Session) EnqueueFrame(f protocol.Frame) {
	f.SessionID = s.ID
	s.Enqueue(OutboundFrame{Frame: f})
}

// EnqueueAudio is a convenience wrapper for binary audio payloads.
func (s *Session) EnqueueAudio(pcm []byte) {
	s.Enqueue(OutboundFrame{Binary: true, Audio: pcm})
}
