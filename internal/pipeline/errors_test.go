package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		err   error
		want  Code
	}{
		{"typed passthrough", StageSynthesis, &Error{Code: CodeLLMRateLimited}, CodeLLMRateLimited},
		{"wrapped typed", StageResponse, fmt.Errorf("call: %w", &Error{Code: CodeLLMConnectionError}), CodeLLMConnectionError},
		{"deadline", StageRecognition, context.DeadlineExceeded, CodeProcessingTimeout},
		{"cancellation", StageResponse, context.Canceled, CodeProcessingTimeout},
		{"audio format", StageRecognition, fmt.Errorf("%w: garbage", audio.ErrInvalidFormat), CodeInvalidAudioFormat},
		{"audio too short", StageRecognition, &audio.DurationError{Duration: 0.1, Bound: 0.5}, CodeAudioTooShort},
		{"audio too long", StageRecognition, &audio.DurationError{Duration: 99, Bound: 30, TooLong: true}, CodeAudioTooLong},
		{"recognition fallback", StageRecognition, errors.New("boom"), CodeSTTServiceUnavailable},
		{"response fallback", StageResponse, errors.New("boom"), CodeLLMServiceUnavailable},
		{"synthesis fallback", StageSynthesis, errors.New("boom"), CodeSynthesisFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.stage, tt.err)
			if got == nil {
				t.Fatal("Translate returned nil for non-nil error")
			}
			if got.Code != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.Code)
			}
		})
	}

	if Translate(StageRecognition, nil) != nil {
		t.Error("Translate(nil) should be nil")
	}
}

func TestTranslateDurationDetails(t *testing.T) {
	perr := Translate(StageRecognition, &audio.DurationError{Duration: 0.2, Bound: 0.5})
	if perr.Code != CodeAudioTooShort {
		t.Fatalf("Expected %s, got %s", CodeAudioTooShort, perr.Code)
	}
	if perr.Details["duration"] != 0.2 || perr.Details["min_duration"] != 0.5 {
		t.Errorf("Expected duration bounds in details, got %v", perr.Details)
	}

	perr = Translate(StageRecognition, &audio.DurationError{Duration: 400, Bound: 300, TooLong: true})
	if perr.Code != CodeAudioTooLong {
		t.Fatalf("Expected %s, got %s", CodeAudioTooLong, perr.Code)
	}
	if perr.Details["duration"] != 400.0 || perr.Details["max_duration"] != 300.0 {
		t.Errorf("Expected duration bounds in details, got %v", perr.Details)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidAudioFormat, http.StatusBadRequest},
		{CodeAudioTooShort, http.StatusBadRequest},
		{CodeAudioTooLong, http.StatusBadRequest},
		{CodeRecognitionFailed, http.StatusUnprocessableEntity},
		{CodeSTTServiceUnavailable, http.StatusServiceUnavailable},
		{CodeLLMServiceUnavailable, http.StatusServiceUnavailable},
		{CodeLLMRateLimited, http.StatusTooManyRequests},
		{CodeLLMConnectionError, http.StatusServiceUnavailable},
		{CodeTTSServiceUnavailable, http.StatusServiceUnavailable},
		{CodeSynthesisFailed, http.StatusInternalServerError},
		{CodeProcessingTimeout, http.StatusGatewayTimeout},
		{CodeTooManyRequests, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		e := &Error{Code: tt.code}
		if got := e.HTTPStatus(); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	e := NewError(CodeLLMConnectionError, "connect", cause)

	if !errors.Is(e, cause) {
		t.Error("Expected Unwrap to expose the cause")
	}
	if e.Error() != "LLM_CONNECTION_ERROR: connect" {
		t.Errorf("Unexpected message: %q", e.Error())
	}
	if (&Error{Code: CodeSynthesisFailed}).Error() != "SYNTHESIS_FAILED" {
		t.Error("Expected bare code when no message set")
	}
}
