package audio

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/zbcjackson/tank-server/model"
)

// EncodeOutbound serializes a synthesized AudioChunk to little-endian
// PCM16 bytes ready for a binary WebSocket frame. TTS output is sent
// as raw PCM rather than re-encoded Opus: the teacher's clients already
// expect raw frames on this leg (server/websocket.go never encodes
// outbound audio).
func EncodeOutbound(chunk model.AudioChunk) []byte {
	out := make([]byte, len(chunk.PCM)*2)
	for i, s := range chunk.PCM {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(s))
	}
	return out
}

// Egress tracks one session's outbound audio leg: every write to the
// transport goes through it, and it exposes a busy/idle signal derived
// from how recently a frame was actually written, not from how full the
// TTS request queue is (spec §4.8).
type Egress struct {
	lastWriteNano atomic.Int64
}

// NewEgress builds an idle Egress.
func NewEgress() *Egress {
	return &Egress{}
}

// Write encodes chunk and records the write so IsBusy reflects it.
func (e *Egress) Write(chunk model.AudioChunk) []byte {
	e.lastWriteNano.Store(time.Now().UnixNano())
	return EncodeOutbound(chunk)
}

// IsBusy reports whether a frame was written within n of now (reference
// N=250ms). An Egress that has never written anything is idle.
func (e *Egress) IsBusy(now time.Time, n time.Duration) bool {
	last := e.lastWriteNano.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) < n
}
