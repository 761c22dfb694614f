package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
	"github.com/skypro1111/voice-dialogue-service/internal/protocol"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service sits behind a trusted gateway; origin policy is
	// enforced there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSession holds the per-connection state of one realtime client.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu             sync.Mutex
	buffer         *audio.ChunkBuffer
	sampleRate     int
	recording      bool
	processing     bool
	cancelInFlight context.CancelFunc
	conversationID string

	closed    chan struct{}
	closeOnce sync.Once
}

func (s *wsSession) send(msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) sendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSession) sendStatus(status protocol.Status) {
	if err := s.send(protocol.NewStatusUpdate(status)); err != nil {
		s.logger.Debug("Failed to send status update", slog.String("error", err.Error()))
	}
}

func (s *wsSession) sendError(code protocol.ErrorCode, message string, recoverable bool) {
	if err := s.send(protocol.NewErrorNotice(code, message, recoverable)); err != nil {
		s.logger.Debug("Failed to send error notice", slog.String("error", err.Error()))
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// sessionRegistry tracks open realtime sessions for shutdown and stats.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*wsSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*wsSession)}
}

func (r *sessionRegistry) add(s *wsSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	sessions := make([]*wsSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// handleWebSocket implements the /ws/realtime endpoint
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	session := &wsSession{
		id:             uuid.NewString(),
		conn:           conn,
		buffer:         audio.NewChunkBuffer(h.config.WebSocket.MaxBufferBytes),
		sampleRate:     16000,
		conversationID: uuid.NewString(),
		closed:         make(chan struct{}),
	}
	session.logger = h.logger.With(slog.String("session_id", session.id))

	conn.SetReadLimit(int64(h.config.WebSocket.MaxBufferBytes) + 4096)

	h.sessions.add(session)
	h.metrics.RecordSessionOpened()
	session.logger.Info("Realtime session opened", slog.String("remote_addr", r.RemoteAddr))

	defer func() {
		session.mu.Lock()
		if session.cancelInFlight != nil {
			session.cancelInFlight()
		}
		session.mu.Unlock()

		session.close()
		h.sessions.remove(session.id)
		h.metrics.RecordSessionClosed()
		session.logger.Info("Realtime session closed")
	}()

	if err := session.send(protocol.NewConnectionAck(session.id)); err != nil {
		return
	}
	session.sendStatus(protocol.StatusIdle)

	go h.pingLoop(session)

	h.readLoop(session)
}

// pingLoop sends keepalive probes until the session closes.
func (h *HTTPServer) pingLoop(session *wsSession) {
	ticker := time.NewTicker(h.config.WebSocket.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-session.closed:
			return
		case <-ticker.C:
			if err := session.send(protocol.NewPing()); err != nil {
				session.close()
				return
			}
		}
	}
}

// readLoop dispatches client frames until the connection drops.
func (h *HTTPServer) readLoop(session *wsSession) {
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				session.logger.Debug("Read error", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			h.metrics.RecordSessionParseError()
			session.sendError(protocol.ErrCodeInvalidMessage, err.Error(), true)
			continue
		}

		switch m := msg.(type) {
		case *protocol.AudioChunk:
			h.metrics.RecordSessionMessage(protocol.TypeAudioChunk)
			h.handleAudioChunk(session, m)
		case *protocol.AudioEnd:
			h.metrics.RecordSessionMessage(protocol.TypeAudioEnd)
			h.handleAudioEnd(session)
		case *protocol.TextInput:
			h.metrics.RecordSessionMessage(protocol.TypeTextInput)
			h.handleTextInput(session, m)
		case *protocol.Cancel:
			h.metrics.RecordSessionMessage(protocol.TypeCancel)
			h.handleCancel(session, m)
		case *protocol.Pong:
			h.metrics.RecordSessionMessage(protocol.TypePong)
		}
	}
}

func (h *HTTPServer) handleAudioChunk(session *wsSession, m *protocol.AudioChunk) {
	if m.Format != "pcm16" {
		session.sendError(protocol.ErrCodeInvalidAudioFormat, "Only pcm16 chunks are supported", true)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		session.sendError(protocol.ErrCodeInvalidAudioFormat, "Chunk data is not valid base64", true)
		return
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.recording {
		session.recording = true
		session.sampleRate = m.SampleRate
		session.buffer.Reset()
		session.sendStatus(protocol.StatusRecording)
	}

	if err := session.buffer.Add(raw); err != nil {
		session.recording = false
		session.buffer.Reset()
		session.sendError(protocol.ErrCodeAudioTooLong, "Recording exceeds the buffer limit", true)
		session.sendStatus(protocol.StatusIdle)
		return
	}

	// Bound the stream by duration as well as bytes: pcm16 is two bytes
	// per sample at the chunk's declared rate.
	maxSeconds := h.config.WebSocket.MaxAudioDuration
	if maxSeconds > 0 && session.sampleRate > 0 &&
		session.buffer.Len() > 2*session.sampleRate*maxSeconds {
		session.recording = false
		session.buffer.Reset()
		session.sendError(protocol.ErrCodeAudioTooLong,
			fmt.Sprintf("Recording exceeds the %d second limit", maxSeconds), true)
		session.sendStatus(protocol.StatusIdle)
	}
}

func (h *HTTPServer) handleAudioEnd(session *wsSession) {
	session.mu.Lock()

	if !session.recording || session.buffer.Len() == 0 {
		session.recording = false
		session.buffer.Reset()
		session.mu.Unlock()
		session.sendError(protocol.ErrCodeAudioTooShort, "No audio received before audio_end", true)
		session.sendStatus(protocol.StatusIdle)
		return
	}

	if session.processing {
		session.mu.Unlock()
		session.sendError(protocol.ErrCodeInvalidMessage, "A request is already being processed", true)
		return
	}

	pcm := session.buffer.Take()
	sampleRate := session.sampleRate
	session.recording = false

	samples := pcm16Samples(pcm)
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		session.mu.Unlock()
		session.sendError(protocol.ErrCodeInvalidAudioFormat, "Failed to assemble recording", true)
		session.sendStatus(protocol.StatusIdle)
		return
	}

	utterance, err := h.ingress.Ingest(wavData, "stream.wav")
	if err != nil {
		session.mu.Unlock()
		perr := pipeline.Translate(pipeline.StageRecognition, err)
		session.sendError(protocol.ErrorCodeFor(perr), perr.Message, true)
		session.sendStatus(protocol.StatusIdle)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session.processing = true
	session.cancelInFlight = cancel
	session.mu.Unlock()

	h.metrics.RecordInputAudio(utterance.Duration, utterance.Size)

	go h.runDialogue(ctx, session, utterance)
}

// runDialogue drives one voice turn for a realtime session.
func (h *HTTPServer) runDialogue(ctx context.Context, session *wsSession, utterance *audio.Utterance) {
	defer session.finishProcessing()

	h.metrics.RecordRequestReceived()

	req := &pipeline.Request{
		ID:             uuid.NewString(),
		Utterance:      utterance,
		ConversationID: session.conversationID,
		Speed:          h.config.TTS.DefaultSpeed,
	}

	result, err := h.coordinator.Process(ctx, req, func(state pipeline.State) {
		h.trackState(state)
		switch state {
		case pipeline.StateRecognizing, pipeline.StateResponding, pipeline.StateSynthesizing:
			session.sendStatus(protocol.StatusFor(state))
		}
	})
	if err != nil {
		h.reportFailure(session, err)
		return
	}

	if err := session.send(protocol.NewTranscriptFinal(result.Transcript, int(utterance.Duration*1000))); err != nil {
		return
	}

	h.deliverReply(session, result)
}

// runText drives one typed turn for a realtime session.
func (h *HTTPServer) runText(ctx context.Context, session *wsSession, req *pipeline.TextRequest) {
	defer session.finishProcessing()

	h.metrics.RecordRequestReceived()

	result, err := h.coordinator.ProcessText(ctx, req, func(state pipeline.State) {
		h.trackState(state)
		switch state {
		case pipeline.StateResponding, pipeline.StateSynthesizing:
			session.sendStatus(protocol.StatusFor(state))
		}
	})
	if err != nil {
		h.reportFailure(session, err)
		return
	}

	h.deliverReply(session, result)
}

// deliverReply streams the synthesized audio and completion notices.
func (h *HTTPServer) deliverReply(session *wsSession, result *pipeline.Result) {
	h.metrics.RecordRequestCompleted(
		result.Metadata.TotalTime,
		result.Metadata.RecognitionTime,
		result.Metadata.ResponseTime,
		result.Metadata.SynthesisTime,
	)
	h.metrics.RecordOutputAudio(result.Audio.Duration)

	session.sendStatus(protocol.StatusPlaying)

	if err := session.sendBinary(result.Audio.WAV); err != nil {
		session.logger.Debug("Failed to send reply audio", slog.String("error", err.Error()))
		return
	}

	if err := session.send(protocol.NewResponseComplete(result.ReplyText, true)); err != nil {
		return
	}

	session.sendStatus(protocol.StatusIdle)
}

func (h *HTTPServer) reportFailure(session *wsSession, err error) {
	perr := pipeline.Translate(pipeline.StageRecognition, err)
	if perr.Code == pipeline.CodeTooManyRequests {
		h.metrics.RecordRequestRejected()
	} else {
		h.metrics.RecordRequestFailed(string(perr.Code))
		if perr.Stage != "" {
			h.metrics.RecordStageFailure(string(perr.Stage), string(perr.Code))
		}
	}

	session.sendError(protocol.ErrorCodeFor(perr), perr.Message, true)
	session.sendStatus(protocol.StatusError)
	session.sendStatus(protocol.StatusIdle)
}

func (h *HTTPServer) handleTextInput(session *wsSession, m *protocol.TextInput) {
	session.mu.Lock()

	if session.processing {
		session.mu.Unlock()
		session.sendError(protocol.ErrCodeInvalidMessage, "A request is already being processed", true)
		return
	}

	conversationID := session.conversationID
	if m.ConversationID != "" {
		conversationID = m.ConversationID
		session.conversationID = m.ConversationID
	}

	ctx, cancel := context.WithCancel(context.Background())
	session.processing = true
	session.cancelInFlight = cancel
	session.mu.Unlock()

	req := &pipeline.TextRequest{
		ID:             uuid.NewString(),
		Text:           m.Content,
		ConversationID: conversationID,
		Speed:          h.config.TTS.DefaultSpeed,
		ReceivedAt:     time.Now(),
	}

	go h.runText(ctx, session, req)
}

func (h *HTTPServer) handleCancel(session *wsSession, m *protocol.Cancel) {
	session.mu.Lock()
	if session.cancelInFlight != nil {
		session.cancelInFlight()
		session.cancelInFlight = nil
	}
	session.recording = false
	session.buffer.Reset()
	session.mu.Unlock()

	session.logger.Info("Request cancelled by client", slog.String("reason", m.Reason))
	session.sendStatus(protocol.StatusIdle)
}

// finishProcessing releases the session's in-flight slot.
func (s *wsSession) finishProcessing() {
	s.mu.Lock()
	s.processing = false
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.cancelInFlight = nil
	}
	s.mu.Unlock()
}

// pcm16Samples reinterprets little-endian 16-bit bytes as samples.
func pcm16Samples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
