// Package apperr wraps internal failures with a subsystem kind and a safe,
// bilingual message suitable for direct display to the client, grounded on
// the AppError pattern used for Redis/internal errors in the example pack
// (tanpawarit-Chative-core-poc-v1/internal/core/error).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies which subsystem produced the error (spec §7 taxonomy).
type Kind string

const (
	KindTransport Kind = "transport"
	KindProtocol  Kind = "protocol"
	KindASR       Kind = "asr"
	KindLLM       Kind = "llm"
	KindTool      Kind = "tool"
	KindTTS       Kind = "tts"
)

// Error wraps an underlying error with a subsystem Kind and a message safe
// to show to an end user.
type Error struct {
	Err     error
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the wrapped error for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a user-safe message.
func New(kind Kind, err error, message string) *Error {
	return &Error{Err: err, Kind: kind, Message: message}
}

// Is reports whether target matches the wrapped error.
func (e *Error) Is(target error) bool { return errors.Is(e.Err, target) }

// ServiceUnavailableMessage is the bilingual fallback used when an LLM
// failure must be surfaced mid-turn (spec §7).
const ServiceUnavailableMessage = "服务暂时不可用 / Service temporarily unavailable"
