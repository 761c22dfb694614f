package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
)

// maxUploadBytes bounds the multipart form parse; the ingress applies the
// configured audio limit afterwards.
const maxUploadBytes = 64 << 20

type errorResponse struct {
	ErrorCode  string         `json:"error_code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
}

// writePipelineError renders a typed pipeline error as JSON with the
// matching HTTP status.
func (h *HTTPServer) writePipelineError(w http.ResponseWriter, perr *pipeline.Error) {
	w.Header().Set("Content-Type", "application/json")
	if perr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(perr.RetryAfter))
	}
	w.WriteHeader(perr.HTTPStatus())

	body, _ := sonic.Marshal(errorResponse{
		ErrorCode:  string(perr.Code),
		Message:    perr.Message,
		Details:    perr.Details,
		RetryAfter: perr.RetryAfter,
	})
	w.Write(body)
}

func (h *HTTPServer) writeErrorCode(w http.ResponseWriter, code pipeline.Code, message string) {
	h.writePipelineError(w, pipeline.NewError(code, message, nil))
}

// handleDialogue runs a full voice dialogue turn: multipart audio in,
// synthesized reply audio out.
func (h *HTTPServer) handleDialogue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.metrics.RecordRequestReceived()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeErrorCode(w, pipeline.CodeInvalidAudioFormat, "Request must be multipart/form-data with an audio file")
		h.metrics.RecordRequestFailed(string(pipeline.CodeInvalidAudioFormat))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		h.writeErrorCode(w, pipeline.CodeInvalidAudioFormat, "Missing audio file field")
		h.metrics.RecordRequestFailed(string(pipeline.CodeInvalidAudioFormat))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeErrorCode(w, pipeline.CodeInvalidAudioFormat, "Failed to read audio file")
		h.metrics.RecordRequestFailed(string(pipeline.CodeInvalidAudioFormat))
		return
	}

	speed := h.config.TTS.DefaultSpeed
	if v := r.FormValue("speed"); v != "" {
		speed, err = strconv.ParseFloat(v, 64)
		if err != nil || speed < h.config.TTS.MinSpeed || speed > h.config.TTS.MaxSpeed {
			h.writeErrorCode(w, pipeline.CodeInvalidAudioFormat,
				fmt.Sprintf("Speed must be between %.1f and %.1f", h.config.TTS.MinSpeed, h.config.TTS.MaxSpeed))
			h.metrics.RecordRequestFailed(string(pipeline.CodeInvalidAudioFormat))
			return
		}
	}

	conversationID := r.FormValue("conversation_id")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	utterance, err := h.ingress.Ingest(data, header.Filename)
	if err != nil {
		perr := pipeline.Translate(pipeline.StageRecognition, err)
		h.writePipelineError(w, perr)
		h.metrics.RecordRequestFailed(string(perr.Code))
		return
	}

	h.metrics.RecordInputAudio(utterance.Duration, len(data))

	req := &pipeline.Request{
		ID:             uuid.NewString(),
		Utterance:      utterance,
		ConversationID: conversationID,
		Speed:          speed,
	}

	result, err := h.coordinator.Process(r.Context(), req, h.trackState)
	if err != nil {
		perr := pipeline.Translate(pipeline.StageRecognition, err)
		if perr.Code == pipeline.CodeTooManyRequests {
			h.metrics.RecordRequestRejected()
		} else {
			h.metrics.RecordRequestFailed(string(perr.Code))
			if perr.Stage != "" {
				h.metrics.RecordStageFailure(string(perr.Stage), string(perr.Code))
			}
		}
		h.writePipelineError(w, perr)
		return
	}

	h.metrics.RecordRequestCompleted(
		result.Metadata.TotalTime,
		result.Metadata.RecognitionTime,
		result.Metadata.ResponseTime,
		result.Metadata.SynthesisTime,
	)
	h.metrics.RecordOutputAudio(result.Audio.Duration)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Conversation-ID", conversationID)
	for key, value := range result.Metadata.Headers() {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio.WAV)))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Audio.WAV)
}

// trackState keeps the in-flight gauge aligned with admission state.
func (h *HTTPServer) trackState(state pipeline.State) {
	if state == pipeline.StateRecognizing {
		h.metrics.SetRequestsInFlight(h.coordinator.Admission().InFlight())
	}
}

// trimDeadline applies timeout to parent unless parent already expires
// sooner.
func trimDeadline(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Speed float64 `json:"speed"`
}

// handleSynthesize exposes the synthesis stage directly, bypassing
// recognition and response generation.
func (h *HTTPServer) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeErrorCode(w, pipeline.CodeSynthesisFailed, "Failed to read request body")
		return
	}

	var req synthesizeRequest
	if err := sonic.Unmarshal(body, &req); err != nil || req.Text == "" {
		h.writeErrorCode(w, pipeline.CodeSynthesisFailed, "Request must be JSON with a non-empty text field")
		return
	}

	speed := req.Speed
	if speed == 0 {
		speed = h.config.TTS.DefaultSpeed
	}
	if speed < h.config.TTS.MinSpeed || speed > h.config.TTS.MaxSpeed {
		h.writeErrorCode(w, pipeline.CodeSynthesisFailed,
			fmt.Sprintf("Speed must be between %.1f and %.1f", h.config.TTS.MinSpeed, h.config.TTS.MaxSpeed))
		return
	}

	ctx, cancel := trimDeadline(r.Context(), h.config.Pipeline.GetSynthesisTimeout())
	defer cancel()

	start := time.Now()
	result, err := h.synthesizer.Synthesize(ctx, req.Text, speed)
	if err != nil {
		perr := pipeline.Translate(pipeline.StageSynthesis, err)
		h.writePipelineError(w, perr)
		return
	}

	h.logger.Debug("Direct synthesis complete",
		slog.Int("text_length", len(req.Text)),
		slog.Float64("audio_duration", result.Duration),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Processing-Time", fmt.Sprintf("%.3f", time.Since(start).Seconds()))
	w.Header().Set("X-Audio-Length", fmt.Sprintf("%.3f", result.Duration))
	w.Header().Set("X-Sample-Rate", strconv.Itoa(result.SampleRate))
	w.WriteHeader(http.StatusOK)
	w.Write(result.WAV)
}
