// Package model holds the data types shared across the conversation
// orchestration core: audio frames, transcripts, history items, and the
// tagged updates streamed from Brain to the frame writer.
package model

import "context"

// AudioFrame is a fixed-duration slice of inbound PCM, normalized to
// [-1, 1] and timestamped relative to the first sample the session received.
type AudioFrame struct {
	Samples    []float32
	SampleRate int
	TStart     float64 // seconds
}

// DurationMs returns the frame's nominal duration in milliseconds.
func (f AudioFrame) DurationMs() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.SampleRate) * 1000
}

// Utterance is a bounded span of user speech delimited by silence (or a
// hard length cap), ready for ASR. Immutable after creation.
type Utterance struct {
	Samples    []float32
	SampleRate int
	TStart     float64
	TEnd       float64
	PreRollMs  int
}

// Language identifies the detected or configured spoken language.
type Language string

const (
	LanguageZH      Language = "zh"
	LanguageEN      Language = "en"
	LanguageUnknown Language = "unknown"
)

// ParseLanguage maps a config or wire language string onto a known
// Language, falling back to zh for anything unrecognized (spec §4.5
// "Language selection": the configured default is zh).
func ParseLanguage(s string) Language {
	if Language(s) == LanguageEN {
		return LanguageEN
	}
	return LanguageZH
}

// Transcript is the ASR result for one Utterance.
type Transcript struct {
	Text       string
	Language   Language
	Confidence float64
	IsFinal    bool
	Err        *TranscriptError
}

// TranscriptError reports a failed ASR attempt without terminating the
// session; it is surfaced to the client as a transcript frame with empty
// text and this kind recorded in metadata.
type TranscriptError struct {
	Kind string
}

func (e *TranscriptError) Error() string { return "asr error: " + e.Kind }

// TTSRequest is enqueued by Brain whenever it finishes a speakable chunk
// of assistant text.
type TTSRequest struct {
	Text      string
	Language  Language
	VoiceHint string
	MsgID     string

	// Ctx is the turn context this chunk was produced under. The TTS
	// worker synthesizes and plays against Ctx rather than the session
	// context, so a barge-in (session.Session.Interrupt) stops this
	// chunk specifically instead of only stopping future turns (spec
	// §4.7).
	Ctx context.Context
}

// AudioChunk is a unit of synthesized PCM ready for AudioEgress.
type AudioChunk struct {
	PCM        []int16
	SampleRate int
}
