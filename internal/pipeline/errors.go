package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
)

// Code identifies a failure class. The set is closed: every error that
// escapes the coordinator carries exactly one of these codes, so callers
// can branch on it without string matching.
type Code string

const (
	CodeInvalidAudioFormat    Code = "INVALID_AUDIO_FORMAT"
	CodeAudioTooShort         Code = "AUDIO_TOO_SHORT"
	CodeAudioTooLong          Code = "AUDIO_TOO_LONG"
	CodeRecognitionFailed     Code = "SPEECH_RECOGNITION_FAILED"
	CodeSTTServiceUnavailable Code = "STT_SERVICE_UNAVAILABLE"
	CodeLLMServiceUnavailable Code = "LLM_SERVICE_UNAVAILABLE"
	CodeLLMRateLimited        Code = "LLM_RATE_LIMITED"
	CodeLLMConnectionError    Code = "LLM_CONNECTION_ERROR"
	CodeTTSServiceUnavailable Code = "TTS_SERVICE_UNAVAILABLE"
	CodeSynthesisFailed       Code = "SYNTHESIS_FAILED"
	CodeProcessingTimeout     Code = "PROCESSING_TIMEOUT"
	CodeTooManyRequests       Code = "TOO_MANY_REQUESTS"
)

// Error is the typed failure the pipeline reports. RetryAfter is in whole
// seconds and only meaningful for rate-limit and admission rejections.
// Stage identifies where the failure happened when it is known; Details
// carries structured context for the client, such as the offending
// duration on a bounds rejection.
type Error struct {
	Code       Code
	Message    string
	Stage      Stage
	Details    map[string]any
	RetryAfter int
	cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a typed pipeline error wrapping an optional cause.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HTTPStatus maps the code to the status the HTTP layer responds with.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidAudioFormat, CodeAudioTooShort, CodeAudioTooLong:
		return http.StatusBadRequest
	case CodeRecognitionFailed:
		return http.StatusUnprocessableEntity
	case CodeLLMRateLimited, CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeSTTServiceUnavailable, CodeLLMServiceUnavailable,
		CodeLLMConnectionError, CodeTTSServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeSynthesisFailed:
		return http.StatusInternalServerError
	case CodeProcessingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fallback is the code used for a stage failure that carries no more
// specific classification.
func (s Stage) fallback() Code {
	switch s {
	case StageRecognition:
		return CodeSTTServiceUnavailable
	case StageResponse:
		return CodeLLMServiceUnavailable
	case StageSynthesis:
		return CodeSynthesisFailed
	default:
		return CodeProcessingTimeout
	}
}

// unavailable is the code for a stage whose engine did not answer within
// the stage's own budget.
func (s Stage) unavailable() Code {
	switch s {
	case StageRecognition:
		return CodeSTTServiceUnavailable
	case StageResponse:
		return CodeLLMServiceUnavailable
	case StageSynthesis:
		return CodeTTSServiceUnavailable
	default:
		return CodeProcessingTimeout
	}
}

// Translate normalizes any error crossing a stage boundary into a typed
// *Error. Typed errors pass through unchanged; context expiry becomes a
// processing timeout; audio validation sentinels map to their dedicated
// codes; everything else falls back to the stage's service-failure code.
func Translate(stage Stage, err error) *Error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(CodeProcessingTimeout, "processing deadline exceeded", err)
	}

	var derr *audio.DurationError
	if errors.As(err, &derr) {
		bound := "min_duration"
		code := CodeAudioTooShort
		if derr.TooLong {
			bound = "max_duration"
			code = CodeAudioTooLong
		}
		e := NewError(code, err.Error(), err)
		e.Details = map[string]any{"duration": derr.Duration, bound: derr.Bound}
		return e
	}

	switch {
	case errors.Is(err, audio.ErrTooShort):
		return NewError(CodeAudioTooShort, err.Error(), err)
	case errors.Is(err, audio.ErrTooLong):
		return NewError(CodeAudioTooLong, err.Error(), err)
	case errors.Is(err, audio.ErrInvalidFormat):
		return NewError(CodeInvalidAudioFormat, err.Error(), err)
	}

	return NewError(stage.fallback(), err.Error(), err)
}

// classifyTimeout refines a timeout seen at a stage boundary. When the
// request-level context is still live only the stage's own budget
// elapsed, which reports the engine as unavailable; PROCESSING_TIMEOUT
// is reserved for the whole-request deadline and caller cancellation.
func classifyTimeout(ctx context.Context, stage Stage, perr *Error) *Error {
	if perr == nil || perr.Code != CodeProcessingTimeout || ctx.Err() != nil {
		return perr
	}
	return NewError(stage.unavailable(),
		fmt.Sprintf("%s engine did not respond within the stage timeout", stage), perr.cause)
}
