package pipeline

import (
	"fmt"
	"time"
)

// Metadata captures per-stage timings and payload measurements for one
// completed request. All times are in seconds.
type Metadata struct {
	TotalTime        float64
	RecognitionTime  float64
	ResponseTime     float64
	SynthesisTime    float64
	InputDuration    float64
	InputTextLength  int
	OutputTextLength int
	OutputDuration   float64
	SampleRate       int
}

// BuildMetadata assembles the metadata for a completed request.
// receivedAt is when the utterance arrived; total time runs from there to
// the end of the last stage rather than summing stage durations, so gaps
// between stages are included.
func BuildMetadata(receivedAt time.Time, stages []StageResult, transcript, reply string, inputDuration float64, synth *SynthesisResult) Metadata {
	md := Metadata{
		InputDuration:    inputDuration,
		InputTextLength:  len([]rune(transcript)),
		OutputTextLength: len([]rune(reply)),
	}
	if synth != nil {
		md.OutputDuration = synth.Duration
		md.SampleRate = synth.SampleRate
	}
	for _, s := range stages {
		switch s.Stage {
		case StageRecognition:
			md.RecognitionTime = s.Seconds()
		case StageResponse:
			md.ResponseTime = s.Seconds()
		case StageSynthesis:
			md.SynthesisTime = s.Seconds()
		}
		if s.End.After(receivedAt) {
			md.TotalTime = s.End.Sub(receivedAt).Seconds()
		}
	}
	return md
}

// Headers renders the metadata as the response headers the HTTP layer
// attaches to successful replies.
func (m Metadata) Headers() map[string]string {
	return map[string]string{
		"X-Processing-Time-Total": fmt.Sprintf("%.3f", m.TotalTime),
		"X-Processing-Time-STT":   fmt.Sprintf("%.3f", m.RecognitionTime),
		"X-Processing-Time-LLM":   fmt.Sprintf("%.3f", m.ResponseTime),
		"X-Processing-Time-TTS":   fmt.Sprintf("%.3f", m.SynthesisTime),
		"X-Input-Duration":        fmt.Sprintf("%.3f", m.InputDuration),
		"X-Input-Text-Length":     fmt.Sprintf("%d", m.InputTextLength),
		"X-Output-Text-Length":    fmt.Sprintf("%d", m.OutputTextLength),
		"X-Output-Duration":       fmt.Sprintf("%.3f", m.OutputDuration),
		"X-Sample-Rate":           fmt.Sprintf("%d", m.SampleRate),
	}
}
