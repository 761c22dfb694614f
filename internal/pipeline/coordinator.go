package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/voice-dialogue-service/internal/conversation"
)

// Config tunes the coordinator. Zero durations disable the corresponding
// limit; MaxConcurrent of zero disables admission control.
type Config struct {
	MaxProcessingTime  time.Duration
	RecognitionTimeout time.Duration
	ResponseTimeout    time.Duration
	SynthesisTimeout   time.Duration
	MaxConcurrent      int

	// RetryAfter is the hint, in seconds, attached to capacity
	// rejections. Defaults to 5.
	RetryAfter int
}

// Coordinator drives one utterance through recognition, response and
// synthesis. It owns no intelligence of its own: each stage is delegated
// to the injected engine and failures are reported, never retried.
type Coordinator struct {
	cfg        Config
	recognizer SpeechRecognizer
	responder  Responder
	synth      Synthesizer
	store      conversation.Store
	admission  *Admission
	logger     *slog.Logger
}

// NewCoordinator wires a coordinator. store may be nil, in which case
// requests run without conversation context.
func NewCoordinator(cfg Config, rec SpeechRecognizer, resp Responder, synth Synthesizer, store conversation.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5
	}
	return &Coordinator{
		cfg:        cfg,
		recognizer: rec,
		responder:  resp,
		synth:      synth,
		store:      store,
		admission:  NewAdmission(cfg.MaxConcurrent),
		logger:     logger,
	}
}

// Admission exposes the admission controller for status reporting.
func (c *Coordinator) Admission() *Admission {
	return c.admission
}

// StateFunc observes state transitions of one request.
type StateFunc func(state State)

// Process runs req through the full pipeline. The returned error, when
// non-nil, is always a *Error. onState may be nil.
func (c *Coordinator) Process(ctx context.Context, req *Request, onState StateFunc) (*Result, error) {
	notify := func(s State) {
		if onState != nil {
			onState(s)
		}
	}
	notify(StateReceived)

	ticket, ok := c.admission.TryAdmit()
	if !ok {
		c.logger.Warn("request rejected at capacity",
			"request_id", req.ID,
			"in_flight", c.admission.InFlight())
		notify(StateFailed)
		return nil, &Error{
			Code:       CodeTooManyRequests,
			Message:    "service at capacity",
			RetryAfter: c.cfg.RetryAfter,
		}
	}
	defer ticket.Release()

	// The whole-request budget counts from receipt, not from here, so
	// time spent queued upstream eats into it.
	if c.cfg.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Utterance.ReceivedAt.Add(c.cfg.MaxProcessingTime))
		defer cancel()
	}

	var stages []StageResult

	fail := func(stage Stage, state State, err error) (*Result, error) {
		perr := classifyTimeout(ctx, stage, Translate(stage, err))
		if perr.Stage == "" {
			perr.Stage = stage
		}
		c.logger.Error("pipeline stage failed",
			"request_id", req.ID,
			"stage", string(stage),
			"code", string(perr.Code),
			"error", err)
		notify(StateFailed)
		return nil, perr
	}

	// Recognition.
	notify(StateRecognizing)
	recCtx, recCancel := stageContext(ctx, c.cfg.RecognitionTimeout)
	start := time.Now()
	transcript, err := c.recognizer.Recognize(recCtx, req.Utterance)
	recCancel()
	if err != nil {
		return fail(StageRecognition, StateRecognizing, err)
	}
	stages = append(stages, StageResult{Stage: StageRecognition, Start: start, End: time.Now()})

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return fail(StageRecognition, StateRecognizing,
			NewError(CodeRecognitionFailed, "no speech detected in audio", nil))
	}

	// Conversation history is best effort: a failing store degrades the
	// reply quality, it does not fail the request.
	var history []conversation.Message
	if c.store != nil && req.ConversationID != "" {
		history, err = c.store.History(ctx, req.ConversationID)
		if err != nil {
			c.logger.Warn("conversation history unavailable, continuing without it",
				"request_id", req.ID,
				"conversation_id", req.ConversationID,
				"error", err)
			history = nil
		}
	}

	// Response.
	notify(StateResponding)
	respCtx, respCancel := stageContext(ctx, c.cfg.ResponseTimeout)
	start = time.Now()
	reply, err := c.responder.Respond(respCtx, transcript, history)
	respCancel()
	if err != nil {
		return fail(StageResponse, StateResponding, err)
	}
	stages = append(stages, StageResult{Stage: StageResponse, Start: start, End: time.Now()})

	// Synthesis.
	notify(StateSynthesizing)
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	synthCtx, synthCancel := stageContext(ctx, c.cfg.SynthesisTimeout)
	start = time.Now()
	synthRes, err := c.synth.Synthesize(synthCtx, reply, speed)
	synthCancel()
	if err != nil {
		return fail(StageSynthesis, StateSynthesizing, err)
	}
	stages = append(stages, StageResult{Stage: StageSynthesis, Start: start, End: time.Now()})

	if c.store != nil && req.ConversationID != "" {
		now := time.Now()
		// Detached from the request context so a nearly exhausted
		// deadline does not drop the turn from history.
		saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.store.Append(saveCtx, req.ConversationID,
			conversation.Message{Role: conversation.RoleUser, Content: transcript, CreatedAt: now},
			conversation.Message{Role: conversation.RoleAssistant, Content: reply, CreatedAt: now},
		); err != nil {
			c.logger.Warn("failed to persist conversation turn",
				"request_id", req.ID,
				"conversation_id", req.ConversationID,
				"error", err)
		}
		saveCancel()
	}

	notify(StateCompleted)

	md := BuildMetadata(req.Utterance.ReceivedAt, stages, transcript, reply, req.Utterance.Duration, synthRes)
	c.logger.Info("request completed",
		"request_id", req.ID,
		"total_time", md.TotalTime,
		"stt_time", md.RecognitionTime,
		"llm_time", md.ResponseTime,
		"tts_time", md.SynthesisTime,
		"transcript_len", md.InputTextLength,
		"reply_len", md.OutputTextLength)

	return &Result{
		RequestID:  req.ID,
		Transcript: transcript,
		ReplyText:  reply,
		Audio:      synthRes,
		Metadata:   md,
	}, nil
}

// TextRequest is a typed-text turn that skips recognition.
type TextRequest struct {
	ID             string
	Text           string
	ConversationID string
	Speed          float64
	ReceivedAt     time.Time
}

// ProcessText runs a text turn through the response and synthesis stages
// only. Used when the caller already has the text, such as typed input on
// a realtime session.
func (c *Coordinator) ProcessText(ctx context.Context, req *TextRequest, onState StateFunc) (*Result, error) {
	notify := func(s State) {
		if onState != nil {
			onState(s)
		}
	}
	notify(StateReceived)

	text := strings.TrimSpace(req.Text)
	if text == "" {
		notify(StateFailed)
		return nil, NewError(CodeRecognitionFailed, "empty input text", nil)
	}

	ticket, ok := c.admission.TryAdmit()
	if !ok {
		c.logger.Warn("request rejected at capacity",
			"request_id", req.ID,
			"in_flight", c.admission.InFlight())
		notify(StateFailed)
		return nil, &Error{
			Code:       CodeTooManyRequests,
			Message:    "service at capacity",
			RetryAfter: c.cfg.RetryAfter,
		}
	}
	defer ticket.Release()

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	if c.cfg.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, receivedAt.Add(c.cfg.MaxProcessingTime))
		defer cancel()
	}

	var stages []StageResult

	fail := func(stage Stage, err error) (*Result, error) {
		perr := classifyTimeout(ctx, stage, Translate(stage, err))
		if perr.Stage == "" {
			perr.Stage = stage
		}
		c.logger.Error("pipeline stage failed",
			"request_id", req.ID,
			"stage", string(stage),
			"code", string(perr.Code),
			"error", err)
		notify(StateFailed)
		return nil, perr
	}

	var history []conversation.Message
	if c.store != nil && req.ConversationID != "" {
		var err error
		history, err = c.store.History(ctx, req.ConversationID)
		if err != nil {
			c.logger.Warn("conversation history unavailable, continuing without it",
				"request_id", req.ID,
				"conversation_id", req.ConversationID,
				"error", err)
			history = nil
		}
	}

	notify(StateResponding)
	respCtx, respCancel := stageContext(ctx, c.cfg.ResponseTimeout)
	start := time.Now()
	reply, err := c.responder.Respond(respCtx, text, history)
	respCancel()
	if err != nil {
		return fail(StageResponse, err)
	}
	stages = append(stages, StageResult{Stage: StageResponse, Start: start, End: time.Now()})

	notify(StateSynthesizing)
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	synthCtx, synthCancel := stageContext(ctx, c.cfg.SynthesisTimeout)
	start = time.Now()
	synthRes, err := c.synth.Synthesize(synthCtx, reply, speed)
	synthCancel()
	if err != nil {
		return fail(StageSynthesis, err)
	}
	stages = append(stages, StageResult{Stage: StageSynthesis, Start: start, End: time.Now()})

	if c.store != nil && req.ConversationID != "" {
		now := time.Now()
		saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.store.Append(saveCtx, req.ConversationID,
			conversation.Message{Role: conversation.RoleUser, Content: text, CreatedAt: now},
			conversation.Message{Role: conversation.RoleAssistant, Content: reply, CreatedAt: now},
		); err != nil {
			c.logger.Warn("failed to persist conversation turn",
				"request_id", req.ID,
				"conversation_id", req.ConversationID,
				"error", err)
		}
		saveCancel()
	}

	notify(StateCompleted)

	md := BuildMetadata(receivedAt, stages, text, reply, 0, synthRes)
	return &Result{
		RequestID:  req.ID,
		Transcript: text,
		ReplyText:  reply,
		Audio:      synthRes,
		Metadata:   md,
	}, nil
}

// stageContext caps a stage at its own timeout on top of whatever
// deadline the parent already carries; the earlier of the two wins.
func stageContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
