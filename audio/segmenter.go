// Package audio turns a stream of inbound AudioFrames into bounded
// Utterances (segmenter) and turns outbound synthesized PCM into framed
// binary WebSocket payloads (egress). Generalized from the teacher's
// inline VAD bookkeeping on model.ConnectionState (ClientHaveVoice /
// ClientHaveVoiceLastTime / ClientVoiceStop) into an explicit
// idle/active/hang state machine with pre-roll buffering, per the
// original Python project's StreamingPerception
// (tank/backend/src/tank_backend/audio/input/audio_input.py).
package audio

import (
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/vad"
)

type segmenterState int

const (
	stateIdle segmenterState = iota
	stateActive
	stateHang
)

// Segmenter consumes AudioFrames and emits complete Utterances once a
// hang/silence timer or the hard length cap fires (spec §4.2).
type Segmenter struct {
	detector vad.Detector

	sampleRate     int
	preRollMs      int
	minSilenceMs   int
	maxUtteranceMs int

	state       segmenterState
	preRoll     []model.AudioFrame
	active      []model.AudioFrame
	silenceMs   float64
	activeMs    float64
	tStart      float64
}

// NewSegmenter builds a Segmenter from the audio-timing configuration.
func NewSegmenter(detector vad.Detector, cfg config.AudioConfig) *Segmenter {
	return &Segmenter{
		detector:       detector,
		sampleRate:     cfg.SampleRateIn,
		preRollMs:      cfg.PreRollMs,
		minSilenceMs:   cfg.MinSilenceMs,
		maxUtteranceMs: cfg.MaxUtteranceMs,
	}
}

// PushFrame feeds one inbound frame into the state machine. It returns a
// completed Utterance when silence or the length cap ends the current
// span; ok is false otherwise. onset reports whether this frame was the
// one that opened a new utterance (speech onset), which the caller must
// treat as an immediate interruption signal independent of completion
// (spec §4.3: onset raises an interruption signal regardless of state).
func (s *Segmenter) PushFrame(f model.AudioFrame) (u model.Utterance, ok bool, onset bool) {
	voiced := s.detector.IsVoice(f.Samples)
	duration := f.DurationMs()

	switch s.state {
	case stateIdle:
		if voiced {
			s.beginUtterance(f)
			return model.Utterance{}, false, true
		}
		s.bufferPreRoll(f)
		return model.Utterance{}, false, false

	case stateActive, stateHang:
		s.active = append(s.active, f)
		s.activeMs += duration

		if voiced {
			s.state = stateActive
			s.silenceMs = 0
		} else {
			s.state = stateHang
			s.silenceMs += duration
		}

		if s.activeMs >= float64(s.maxUtteranceMs) {
			return s.finish(), true, false
		}
		if s.state == stateHang && s.silenceMs >= float64(s.minSilenceMs) {
			return s.finish(), true, false
		}
		return model.Utterance{}, false, false
	}

	return model.Utterance{}, false, false
}

// Interrupt aborts the in-progress utterance (if any) without emitting
// it, used when a barge-in cancels the current turn and the partial
// speech should not be treated as a finished segment (spec §4.5).
func (s *Segmenter) Interrupt() {
	s.state = stateIdle
	s.active = nil
	s.silenceMs = 0
	s.activeMs = 0
	s.preRoll = nil
}

func (s *Segmenter) bufferPreRoll(f model.AudioFrame) {
	s.preRoll = append(s.preRoll, f)
	budgetMs := float64(s.preRollMs)
	var total float64
	cut := 0
	for i := len(s.preRoll) - 1; i >= 0; i-- {
		total += s.preRoll[i].DurationMs()
		if total > budgetMs {
			cut = i
			break
		}
	}
	if cut > 0 {
		s.preRoll = s.preRoll[cut:]
	}
}

func (s *Segmenter) beginUtterance(f model.AudioFrame) {
	s.state = stateActive
	s.active = append([]model.AudioFrame{}, s.preRoll...)
	s.active = append(s.active, f)
	s.activeMs = 0
	for _, pf := range s.active {
		s.activeMs += pf.DurationMs()
	}
	s.silenceMs = 0
	if len(s.active) > 0 {
		s.tStart = s.active[0].TStart
	} else {
		s.tStart = f.TStart
	}
}

func (s *Segmenter) finish() model.Utterance {
	samples := make([]float32, 0)
	for _, f := range s.active {
		samples = append(samples, f.Samples...)
	}
	tEnd := s.tStart + s.activeMs/1000
	u := model.Utterance{
		Samples:    samples,
		SampleRate: s.sampleRate,
		TStart:     s.tStart,
		TEnd:       tEnd,
		PreRollMs:  s.preRollMs,
	}
	s.state = stateIdle
	s.active = nil
	s.preRoll = nil
	s.silenceMs = 0
	s.activeMs = 0
	return u
}
