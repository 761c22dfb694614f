package pipeline

import (
	"context"
	"time"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
	"github.com/skypro1111/voice-dialogue-service/internal/conversation"
)

// Stage identifies one of the three processing stages a request passes
// through, in order.
type Stage string

const (
	StageRecognition Stage = "recognition"
	StageResponse    Stage = "response"
	StageSynthesis   Stage = "synthesis"
)

// State tracks where a request currently is. Transitions are strictly
// forward; a failed request stops in StateFailed without retrying.
type State string

const (
	StateReceived     State = "received"
	StateRecognizing  State = "recognizing"
	StateResponding   State = "responding"
	StateSynthesizing State = "synthesizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// SpeechRecognizer turns an utterance into its transcript.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, utt *audio.Utterance) (string, error)
}

// Responder produces the assistant reply for a transcript, given the
// prior turns of the conversation (oldest first, possibly empty).
type Responder interface {
	Respond(ctx context.Context, transcript string, history []conversation.Message) (string, error)
}

// Synthesizer renders reply text as speech. Speed above 1.0 shortens the
// audio, below 1.0 stretches it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, speed float64) (*SynthesisResult, error)
}

// SynthesisResult is the audio produced by a Synthesizer.
type SynthesisResult struct {
	WAV        []byte
	SampleRate int
	Duration   float64
}

// Request is one utterance to drive through the pipeline.
type Request struct {
	ID             string
	Utterance      *audio.Utterance
	ConversationID string
	Speed          float64
}

// StageResult records the wall-clock span of one completed stage.
type StageResult struct {
	Stage Stage
	Start time.Time
	End   time.Time
}

// Seconds returns the stage's elapsed time in seconds.
func (r StageResult) Seconds() float64 {
	return r.End.Sub(r.Start).Seconds()
}

// Result is the outcome of a successfully completed request.
type Result struct {
	RequestID  string
	Transcript string
	ReplyText  string
	Audio      *SynthesisResult
	Metadata   Metadata
}
