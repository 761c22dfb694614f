package server

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/voice-dialogue-service/internal/config"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
	"github.com/skypro1111/voice-dialogue-service/internal/protocol"
)

func pipelineError(t *testing.T) *pipeline.Error {
	t.Helper()
	return pipeline.NewError(pipeline.CodeSTTServiceUnavailable, "STT service unavailable", nil)
}

func dialRealtime(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// wsEvent is one server frame: either a decoded JSON message or a binary
// audio payload.
type wsEvent struct {
	msgType string
	fields  map[string]interface{}
	binary  []byte
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()

	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if frameType == websocket.BinaryMessage {
			return wsEvent{msgType: "binary", binary: data}
		}

		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatalf("Server sent invalid JSON: %s", data)
		}
		msgType, _ := fields["type"].(string)
		if msgType == protocol.TypePing {
			continue
		}
		return wsEvent{msgType: msgType, fields: fields}
	}
}

func expectEvent(t *testing.T, conn *websocket.Conn, msgType string) wsEvent {
	t.Helper()

	ev := readEvent(t, conn)
	if ev.msgType != msgType {
		t.Fatalf("Expected %s message, got %s (%v)", msgType, ev.msgType, ev.fields)
	}
	return ev
}

func expectStatus(t *testing.T, conn *websocket.Conn, status protocol.Status) {
	t.Helper()

	ev := expectEvent(t, conn, protocol.TypeStatusUpdate)
	if got := ev.fields["status"]; got != string(status) {
		t.Fatalf("Expected status %s, got %v", status, got)
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func TestWebSocketHandshake(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	ack := expectEvent(t, conn, protocol.TypeConnectionAck)
	if ack.fields["session_id"] == "" {
		t.Error("Expected a session_id in connection_ack")
	}
	expectStatus(t, conn, protocol.StatusIdle)
}

func TestWebSocketTextDialogue(t *testing.T) {
	_, ts, engines := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	sendJSON(t, conn, map[string]any{"type": "text_input", "content": "調子はどう?"})

	expectStatus(t, conn, protocol.StatusGenerating)
	expectStatus(t, conn, protocol.StatusSynthesizing)
	expectStatus(t, conn, protocol.StatusPlaying)

	audioFrame := expectEvent(t, conn, "binary")
	if len(audioFrame.binary) != len(engines.synthesizer.wav) {
		t.Errorf("Expected %d bytes of reply audio, got %d",
			len(engines.synthesizer.wav), len(audioFrame.binary))
	}

	complete := expectEvent(t, conn, protocol.TypeResponseComplete)
	if complete.fields["full_text"] != "hello there" {
		t.Errorf("Expected full_text 'hello there', got %v", complete.fields["full_text"])
	}
	if complete.fields["audio_available"] != true {
		t.Error("Expected audio_available true")
	}

	expectStatus(t, conn, protocol.StatusIdle)

	if engines.recognizer.calls.Load() != 0 {
		t.Errorf("Text input must not invoke recognition, got %d calls", engines.recognizer.calls.Load())
	}
}

func TestWebSocketAudioDialogue(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	// One second of 16kHz pcm16 silence split into two chunks.
	pcm := make([]byte, 32000)
	for i := 0; i < 2; i++ {
		sendJSON(t, conn, map[string]any{
			"type":        "audio_chunk",
			"data":        base64.StdEncoding.EncodeToString(pcm[i*16000 : (i+1)*16000]),
			"chunk_index": i,
			"sample_rate": 16000,
			"format":      "pcm16",
		})
	}
	sendJSON(t, conn, map[string]any{"type": "audio_end", "total_chunks": 2, "total_duration_ms": 1000})

	expectStatus(t, conn, protocol.StatusRecording)
	expectStatus(t, conn, protocol.StatusTranscribing)
	expectStatus(t, conn, protocol.StatusGenerating)
	expectStatus(t, conn, protocol.StatusSynthesizing)

	transcript := expectEvent(t, conn, protocol.TypeTranscriptFinal)
	if transcript.fields["content"] != "こんにちは" {
		t.Errorf("Expected transcript content, got %v", transcript.fields["content"])
	}
	if transcript.fields["duration_ms"].(float64) != 1000 {
		t.Errorf("Expected duration_ms 1000, got %v", transcript.fields["duration_ms"])
	}

	expectStatus(t, conn, protocol.StatusPlaying)
	expectEvent(t, conn, "binary")
	expectEvent(t, conn, protocol.TypeResponseComplete)
	expectStatus(t, conn, protocol.StatusIdle)
}

func TestWebSocketStreamDurationLimit(t *testing.T) {
	_, ts, _ := newTestServerWith(t, func(cfg *config.Config) {
		cfg.WebSocket.MaxAudioDuration = 1
	})
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	// 1.25 seconds of 16kHz pcm16: past the one second cap.
	sendJSON(t, conn, map[string]any{
		"type":        "audio_chunk",
		"data":        base64.StdEncoding.EncodeToString(make([]byte, 16000)),
		"chunk_index": 0,
		"sample_rate": 16000,
		"format":      "pcm16",
	})
	expectStatus(t, conn, protocol.StatusRecording)

	sendJSON(t, conn, map[string]any{
		"type":        "audio_chunk",
		"data":        base64.StdEncoding.EncodeToString(make([]byte, 24000)),
		"chunk_index": 1,
		"sample_rate": 16000,
		"format":      "pcm16",
	})

	notice := expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeAudioTooLong) {
		t.Errorf("Expected AUDIO_TOO_LONG, got %v", notice.fields["code"])
	}
	expectStatus(t, conn, protocol.StatusIdle)

	// The buffer was discarded; ending the stream finds no audio.
	sendJSON(t, conn, map[string]any{"type": "audio_end", "total_chunks": 2, "total_duration_ms": 1250})
	notice = expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeAudioTooShort) {
		t.Errorf("Expected AUDIO_TOO_SHORT after reset, got %v", notice.fields["code"])
	}
}

func TestWebSocketAudioEndWithoutChunks(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	sendJSON(t, conn, map[string]any{"type": "audio_end", "total_chunks": 0, "total_duration_ms": 0})

	notice := expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeAudioTooShort) {
		t.Errorf("Expected AUDIO_TOO_SHORT, got %v", notice.fields["code"])
	}
	if notice.fields["recoverable"] != true {
		t.Error("Expected a recoverable error")
	}
	expectStatus(t, conn, protocol.StatusIdle)
}

func TestWebSocketInvalidMessage(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	notice := expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeInvalidMessage) {
		t.Errorf("Expected INVALID_MESSAGE, got %v", notice.fields["code"])
	}
}

func TestWebSocketUnknownType(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	sendJSON(t, conn, map[string]any{"type": "warp_drive"})

	notice := expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeInvalidMessage) {
		t.Errorf("Expected INVALID_MESSAGE, got %v", notice.fields["code"])
	}
}

func TestWebSocketRecognitionFailure(t *testing.T) {
	_, ts, engines := newTestServer(t)
	engines.recognizer.err = pipelineError(t)

	conn := dialRealtime(t, ts.URL)
	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	pcm := make([]byte, 32000)
	sendJSON(t, conn, map[string]any{
		"type":        "audio_chunk",
		"data":        base64.StdEncoding.EncodeToString(pcm),
		"sample_rate": 16000,
		"format":      "pcm16",
	})
	sendJSON(t, conn, map[string]any{"type": "audio_end", "total_chunks": 1, "total_duration_ms": 1000})

	expectStatus(t, conn, protocol.StatusRecording)
	expectStatus(t, conn, protocol.StatusTranscribing)

	notice := expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeSTTServiceError) {
		t.Errorf("Expected STT_SERVICE_ERROR, got %v", notice.fields["code"])
	}
	expectStatus(t, conn, protocol.StatusError)
	expectStatus(t, conn, protocol.StatusIdle)
}

func TestWebSocketCancelResets(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts.URL)

	expectEvent(t, conn, protocol.TypeConnectionAck)
	expectStatus(t, conn, protocol.StatusIdle)

	pcm := make([]byte, 16000)
	sendJSON(t, conn, map[string]any{
		"type":        "audio_chunk",
		"data":        base64.StdEncoding.EncodeToString(pcm),
		"sample_rate": 16000,
		"format":      "pcm16",
	})
	expectStatus(t, conn, protocol.StatusRecording)

	sendJSON(t, conn, map[string]any{"type": "cancel", "reason": "user_cancelled"})
	expectStatus(t, conn, protocol.StatusIdle)

	// The discarded recording must not leak into the next turn.
	sendJSON(t, conn, map[string]any{"type": "audio_end", "total_chunks": 1, "total_duration_ms": 500})
	notice := expectEvent(t, conn, protocol.TypeError)
	if notice.fields["code"] != string(protocol.ErrCodeAudioTooShort) {
		t.Errorf("Expected AUDIO_TOO_SHORT after cancel, got %v", notice.fields["code"])
	}
}
