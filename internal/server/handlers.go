package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleStatus implements the /api/orchestrator/status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	admission := h.coordinator.Admission()
	inFlight := admission.InFlight()

	status := "healthy"
	if admission.Limit() > 0 && inFlight >= admission.Limit() {
		status = "degraded"
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"pipeline": map[string]interface{}{
			"requests_in_flight": inFlight,
			"max_concurrent":     admission.Limit(),
		},
		"services": map[string]interface{}{
			"stt": map[string]interface{}{
				"endpoint": h.config.STT.Endpoint,
			},
			"llm": map[string]interface{}{
				"model": h.config.LLM.Model,
			},
			"tts": map[string]interface{}{
				"endpoint": h.config.TTS.Endpoint,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	admission := h.coordinator.Admission()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-dialogue-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"pipeline": map[string]interface{}{
				"status":             "running",
				"requests_in_flight": admission.InFlight(),
				"max_concurrent":     admission.Limit(),
			},
			"websocket": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.sessions.count(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"audio": map[string]interface{}{
			"min_duration": h.config.Audio.MinDuration,
			"max_duration": h.config.Audio.MaxDuration,
			"max_bytes":    h.config.Audio.MaxBytes,
			"sample_rate":  h.config.Audio.SampleRate,
		},
		"pipeline": map[string]interface{}{
			"max_processing_time": h.config.Pipeline.MaxProcessingTime,
			"recognition_timeout": h.config.Pipeline.RecognitionTimeout,
			"response_timeout":    h.config.Pipeline.ResponseTimeout,
			"synthesis_timeout":   h.config.Pipeline.SynthesisTimeout,
			"max_concurrent":      h.config.Pipeline.MaxConcurrent,
			"default_retry_after": h.config.Pipeline.DefaultRetryAfter,
		},
		"stt": map[string]interface{}{
			"endpoint":       h.config.STT.Endpoint,
			"timeout":        h.config.STT.Timeout,
			"max_retries":    h.config.STT.MaxRetries,
			"max_concurrent": h.config.STT.MaxConcurrent,
			"language":       h.config.STT.Language,
			// Note: API key is intentionally omitted for security
		},
		"llm": map[string]interface{}{
			"model":               h.config.LLM.Model,
			"max_tokens":          h.config.LLM.MaxTokens,
			"temperature":         h.config.LLM.Temperature,
			"default_retry_after": h.config.LLM.DefaultRetryAfter,
		},
		"tts": map[string]interface{}{
			"endpoint":      h.config.TTS.Endpoint,
			"timeout":       h.config.TTS.Timeout,
			"min_speed":     h.config.TTS.MinSpeed,
			"max_speed":     h.config.TTS.MaxSpeed,
			"default_speed": h.config.TTS.DefaultSpeed,
		},
		"conversation": map[string]interface{}{
			"backend":           h.config.Conversation.Backend,
			"max_messages":      h.config.Conversation.MaxMessages,
			"max_conversations": h.config.Conversation.MaxConversations,
			"ttl_minutes":       h.config.Conversation.TTLMinutes,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	admission := h.coordinator.Admission()

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"pipeline": map[string]interface{}{
			"requests_in_flight": admission.InFlight(),
			"max_concurrent":     admission.Limit(),
		},
		"sessions": map[string]interface{}{
			"active_count": h.sessions.count(),
		},
	}

	if h.sttStats != nil {
		stats["stt"] = h.sttStats()
	}

	if count, err := h.store.Count(r.Context()); err == nil {
		h.metrics.SetActiveConversations(count)
		stats["conversations"] = map[string]interface{}{
			"active_count": count,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Dialogue Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                           "API documentation",
			"POST /api/orchestrator/dialogue": "Run a voice dialogue turn (multipart audio in, WAV reply out)",
			"POST /api/tts/synthesize":        "Synthesize speech from text",
			"GET /api/orchestrator/status":    "Pipeline status",
			"WS /ws/realtime":                 "Realtime dialogue WebSocket",
			"GET /health":                     "Service health check",
			"GET /config":                     "Get service configuration",
			"GET /stats":                      "Get service statistics",
			"GET /metrics":                    "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
