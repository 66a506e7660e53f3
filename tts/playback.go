package tts

import (
	"context"
	"time"

	"github.com/zbcjackson/tank-server/audio"
	"github.com/zbcjackson/tank-server/metrics"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"
	"github.com/zbcjackson/tank-server/session"

	"github.com/rs/zerolog"
)

// idleThreshold is the reference window spec §4.8 names for the
// busy/idle signal: no frame written in this long means idle.
const idleThreshold = 250 * time.Millisecond

// fadeSamples is how many trailing PCM16 samples are ramped to silence
// when a turn is interrupted mid-chunk, so playback never clicks (spec
// §4.5: cancel-to-silence must be audibly clean, not abrupt).
const fadeSamples = 240

// Worker drains a session's TTSRequests, synthesizes each chunk, and
// streams the resulting PCM to the client, generalizing the teacher's
// handleTTS goroutine (websocket/websocket.go) from a fixed Opus-frame
// list to a single PCM chunk per request plus explicit tts start/stop
// signaling framed as protocol.Frame instead of model.ConnectionCommand.
type Worker struct {
	synth  Synthesizer
	sess   *session.Session
	log    zerolog.Logger
	egress *audio.Egress
}

// NewWorker builds a playback Worker bound to one session.
func NewWorker(synth Synthesizer, sess *session.Session, log zerolog.Logger) *Worker {
	return &Worker{synth: synth, sess: sess, log: log, egress: audio.NewEgress()}
}

// IsBusy reports whether this worker's egress wrote a frame within the
// reference N=250ms window (spec §4.8).
func (w *Worker) IsBusy(now time.Time) bool {
	return w.egress.IsBusy(now, idleThreshold)
}

// Run drains TTSRequests until the session context is cancelled,
// emitting tts start/sentence/stop signals around each spoken turn. Each
// request carries its own turn context (model.TTSRequest.Ctx); a
// barge-in cancels that context specifically, so a chunk queued by an
// interrupted turn is dropped here without ever reaching the synthesizer
// (spec §4.7: stop pulling from the adapter, stop emitting new binary
// frames within one decode quantum).
func (w *Worker) Run(ctx context.Context) error {
	speaking := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-w.sess.TTSRequests:
			if !ok {
				return nil
			}
			turnCtx := req.Ctx
			if turnCtx == nil {
				turnCtx = ctx
			}

			if turnDone(turnCtx) {
				if speaking {
					w.sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameTTS, TTSState: "stop", MsgID: req.MsgID})
					speaking = false
				}
				w.sess.TTSChunkDrained()
				continue
			}

			firstChunk := !speaking
			if !speaking {
				w.sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameTTS, TTSState: "start", MsgID: req.MsgID})
				speaking = true
			}
			w.sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameTTS, TTSState: "sentence_start", MsgID: req.MsgID, Text: req.Text})

			if err := w.speak(turnCtx, req, firstChunk); err != nil {
				w.log.Warn().Err(err).Msg("tts synthesis failed")
				w.sess.TTSChunkDrained()
				continue
			}
			w.sess.TTSChunkDrained()

			if len(w.sess.TTSRequests) == 0 {
				w.sess.EnqueueFrame(protocol.Frame{Type: protocol.FrameTTS, TTSState: "stop", MsgID: req.MsgID})
				speaking = false
			}
		}
	}
}

func turnDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (w *Worker) speak(turnCtx context.Context, req model.TTSRequest, firstChunk bool) error {
	start := time.Now()
	chunk, err := w.synth.Synthesize(turnCtx, req)
	if err != nil {
		return err
	}
	metrics.TTSChunkLatencySeconds.Observe(time.Since(start).Seconds())

	if firstChunk {
		fadeIn(chunk.PCM)
	}

	select {
	case <-turnCtx.Done():
		fadeOut(chunk.PCM)
		if at := w.sess.InterruptedAt(); at != nil {
			metrics.CancelToSilenceSeconds.Observe(time.Since(*at).Seconds())
		}
	default:
	}

	w.sess.EnqueueAudio(w.egress.Write(chunk))
	return nil
}

// fadeIn ramps the leading fadeSamples samples up from zero in place, so
// the first chunk of a turn never starts with an audible click (spec
// §4.7 point 3).
func fadeIn(pcm []int16) {
	n := len(pcm)
	if n == 0 {
		return
	}
	span := fadeSamples
	if span > n {
		span = n
	}
	for i := 0; i < span; i++ {
		factor := float64(i) / float64(span)
		pcm[i] = int16(float64(pcm[i]) * factor)
	}
}

// fadeOut ramps the final fadeSamples samples to zero in place, so a
// chunk that raced a cancellation never ends in an audible click.
func fadeOut(pcm []int16) {
	n := len(pcm)
	if n == 0 {
		return
	}
	start := n - fadeSamples
	if start < 0 {
		start = 0
	}
	span := n - start
	for i := start; i < n; i++ {
		factor := float64(n-1-i) / float64(span)
		pcm[i] = int16(float64(pcm[i]) * factor)
	}
}

