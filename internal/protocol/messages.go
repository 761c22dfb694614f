// Package protocol defines the realtime WebSocket message protocol: the
// JSON envelopes exchanged with dialogue clients and their parsing.
package protocol

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
)

// Status is the processing state reported to clients over the socket.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
	StatusGenerating   Status = "generating"
	StatusSynthesizing Status = "synthesizing"
	StatusPlaying      Status = "playing"
	StatusError        Status = "error"
)

// ErrorCode is the socket-level error code vocabulary.
type ErrorCode string

const (
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout  ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeConnectionClosed   ErrorCode = "CONNECTION_CLOSED"
	ErrCodeSTTServiceError    ErrorCode = "STT_SERVICE_ERROR"
	ErrCodeSTTTimeout         ErrorCode = "STT_TIMEOUT"
	ErrCodeAudioTooShort      ErrorCode = "AUDIO_TOO_SHORT"
	ErrCodeAudioTooLong       ErrorCode = "AUDIO_TOO_LONG"
	ErrCodeInvalidAudioFormat ErrorCode = "INVALID_AUDIO_FORMAT"
	ErrCodeLLMServiceError    ErrorCode = "LLM_SERVICE_ERROR"
	ErrCodeLLMTimeout         ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMRateLimited     ErrorCode = "LLM_RATE_LIMITED"
	ErrCodeTTSServiceError    ErrorCode = "TTS_SERVICE_ERROR"
	ErrCodeTTSTimeout         ErrorCode = "TTS_TIMEOUT"
	ErrCodeInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Message type tags.
const (
	TypeAudioChunk       = "audio_chunk"
	TypeAudioEnd         = "audio_end"
	TypeTextInput        = "text_input"
	TypeCancel           = "cancel"
	TypePong             = "pong"
	TypeConnectionAck    = "connection_ack"
	TypeStatusUpdate     = "status_update"
	TypeTranscriptFinal  = "transcript_final"
	TypeResponseComplete = "response_complete"
	TypeError            = "error"
	TypePing             = "ping"
)

// Client -> server messages.

// AudioChunk carries one base64-encoded slice of recorded audio.
type AudioChunk struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	ChunkIndex int    `json:"chunk_index"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

// AudioEnd signals that the client finished recording.
type AudioEnd struct {
	Type            string `json:"type"`
	TotalChunks     int    `json:"total_chunks"`
	TotalDurationMS int    `json:"total_duration_ms"`
}

// TextInput is a typed alternative to voice input.
type TextInput struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Cancel aborts the in-flight request, if any.
type Cancel struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Pong answers a server ping.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Server -> client messages.

// ConnectionAck confirms the handshake and assigns the session ID.
type ConnectionAck struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	ServerTime time.Time `json:"server_time"`
}

// StatusUpdate reports a processing state change.
type StatusUpdate struct {
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptFinal carries the recognized text once recognition completes.
type TranscriptFinal struct {
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	DurationMS int       `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResponseComplete signals the reply is ready.
type ResponseComplete struct {
	Type           string    `json:"type"`
	FullText       string    `json:"full_text"`
	AudioAvailable bool      `json:"audio_available"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorNotice reports a failure to the client. Recoverable errors leave
// the session usable.
type ErrorNotice struct {
	Type        string    `json:"type"`
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Details     any       `json:"details,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

// Ping is a server keepalive probe.
type Ping struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewConnectionAck(sessionID string) *ConnectionAck {
	return &ConnectionAck{Type: TypeConnectionAck, SessionID: sessionID, ServerTime: time.Now().UTC()}
}

func NewStatusUpdate(status Status) *StatusUpdate {
	return &StatusUpdate{Type: TypeStatusUpdate, Status: status, Timestamp: time.Now().UTC()}
}

func NewTranscriptFinal(content string, durationMS int) *TranscriptFinal {
	return &TranscriptFinal{
		Type:       TypeTranscriptFinal,
		Content:    content,
		Confidence: 1.0,
		DurationMS: durationMS,
		Timestamp:  time.Now().UTC(),
	}
}

func NewResponseComplete(fullText string, audioAvailable bool) *ResponseComplete {
	return &ResponseComplete{
		Type:           TypeResponseComplete,
		FullText:       fullText,
		AudioAvailable: audioAvailable,
		Timestamp:      time.Now().UTC(),
	}
}

func NewErrorNotice(code ErrorCode, message string, recoverable bool) *ErrorNotice {
	return &ErrorNotice{
		Type:        TypeError,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	}
}

func NewPing() *Ping {
	return &Ping{Type: TypePing, Timestamp: time.Now().UTC()}
}

// Encode marshals any protocol message.
func Encode(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}

// ParseClientMessage decodes one client frame by its type tag. The
// returned value is a pointer to the concrete message struct.
func ParseClientMessage(data []byte) (any, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch probe.Type {
	case TypeAudioChunk:
		msg := &AudioChunk{SampleRate: 16000, Format: "pcm16"}
		if err := sonic.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("invalid audio_chunk message: %w", err)
		}
		return msg, nil
	case TypeAudioEnd:
		msg := &AudioEnd{}
		if err := sonic.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("invalid audio_end message: %w", err)
		}
		return msg, nil
	case TypeTextInput:
		msg := &TextInput{}
		if err := sonic.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("invalid text_input message: %w", err)
		}
		if msg.Content == "" {
			return nil, fmt.Errorf("text_input requires non-empty content")
		}
		return msg, nil
	case TypeCancel:
		msg := &Cancel{}
		if err := sonic.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("invalid cancel message: %w", err)
		}
		return msg, nil
	case TypePong:
		msg := &Pong{}
		if err := sonic.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("invalid pong message: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", probe.Type)
	}
}

// StatusFor maps a pipeline state to the socket status vocabulary.
func StatusFor(state pipeline.State) Status {
	switch state {
	case pipeline.StateRecognizing:
		return StatusTranscribing
	case pipeline.StateResponding:
		return StatusGenerating
	case pipeline.StateSynthesizing:
		return StatusSynthesizing
	case pipeline.StateCompleted:
		return StatusIdle
	case pipeline.StateFailed:
		return StatusError
	default:
		return StatusIdle
	}
}

// ErrorCodeFor maps a pipeline error to the socket error vocabulary.
func ErrorCodeFor(perr *pipeline.Error) ErrorCode {
	switch perr.Code {
	case pipeline.CodeInvalidAudioFormat:
		return ErrCodeInvalidAudioFormat
	case pipeline.CodeAudioTooShort:
		return ErrCodeAudioTooShort
	case pipeline.CodeAudioTooLong:
		return ErrCodeAudioTooLong
	case pipeline.CodeRecognitionFailed, pipeline.CodeSTTServiceUnavailable:
		return ErrCodeSTTServiceError
	case pipeline.CodeLLMRateLimited:
		return ErrCodeLLMRateLimited
	case pipeline.CodeLLMServiceUnavailable, pipeline.CodeLLMConnectionError:
		return ErrCodeLLMServiceError
	case pipeline.CodeTTSServiceUnavailable, pipeline.CodeSynthesisFailed:
		return ErrCodeTTSServiceError
	case pipeline.CodeProcessingTimeout:
		return ErrCodeConnectionTimeout
	default:
		return ErrCodeInternalError
	}
}
