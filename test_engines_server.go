package main

import (
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
)

type RecognitionResponse struct {
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

type SynthesisRequest struct {
	Text  string  `json:"text"`
	Speed float64 `json:"speed"`
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	err := r.ParseMultipartForm(10 << 20) // 10 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	sampleRate := r.FormValue("sample_rate")
	duration := r.FormValue("duration")
	format := r.FormValue("format")
	language := r.FormValue("language")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("🎤 RECOGNITION REQUEST RECEIVED:")
	log.Printf("    Filename: %s", header.Filename)
	log.Printf("    Audio Size: %d bytes", len(audioData))
	log.Printf("    Sample Rate: %s Hz", sampleRate)
	log.Printf("    Duration: %s seconds", duration)
	log.Printf("    Format: %s", format)
	log.Printf("    Language: %s", language)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	response := RecognitionResponse{
		Text:        "これはテスト用の音声認識結果です",
		Language:    "ja",
		Duration:    parseFloat64(duration),
		ProcessedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ RECOGNITION RESPONSE SENT: '%s'", response.Text)
	log.Println("---")
}

func synthesizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	var req SynthesisRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Text == "" {
		http.Error(w, "Request must be JSON with a non-empty text field", http.StatusBadRequest)
		return
	}
	if req.Speed <= 0 {
		req.Speed = 1.0
	}

	log.Printf("🔊 SYNTHESIS REQUEST RECEIVED:")
	log.Printf("    Text Length: %d", len([]rune(req.Text)))
	log.Printf("    Speed: %.2f", req.Speed)

	// Fake audio: 80ms of 440Hz tone per character, scaled by speed
	const sampleRate = 22050
	duration := 0.08 * float64(len([]rune(req.Text))) / req.Speed
	if duration < 0.5 {
		duration = 0.5
	}

	samples := make([]int16, int(duration*sampleRate))
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}

	start := time.Now()
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		http.Error(w, "Error encoding audio", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Processing-Time", strconv.FormatFloat(time.Since(start).Seconds(), 'f', 3, 64))
	w.Header().Set("X-Audio-Length", strconv.FormatFloat(duration, 'f', 3, 64))
	w.Header().Set("X-Sample-Rate", strconv.Itoa(sampleRate))
	w.WriteHeader(http.StatusOK)
	w.Write(wavData)

	log.Printf("✅ SYNTHESIS RESPONSE SENT: %.2fs of audio", duration)
	log.Println("---")
}

func parseFloat64(s string) float64 {
	val, _ := strconv.ParseFloat(s, 64)
	return val
}

func main() {
	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/synthesize", synthesizeHandler)

	port := ":9000"
	log.Printf("🚀 Test Engine Server starting on port %s", port)
	log.Printf("📡 STT Endpoint: http://localhost%s/transcribe", port)
	log.Printf("📡 TTS Endpoint: http://localhost%s/synthesize", port)
	log.Println("💡 Update your config to use these endpoints")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
