package audio

import (
	"errors"
	"math"
	"testing"

	"github.com/zaf/g711"
)

func testIngress() *Ingress {
	return NewIngress(IngressConfig{
		MinDuration:   0.1,
		MaxDuration:   30.0,
		MaxBytes:      10 << 20,
		PCMSampleRate: 16000,
	})
}

func TestIngestWAV(t *testing.T) {
	samples := sineSamples(16000, 2.0, 440.0)
	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	utt, err := testIngress().Ingest(wavData, "speech.wav")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if utt.Format != "wav" {
		t.Errorf("Expected format wav, got %s", utt.Format)
	}
	if utt.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", utt.SampleRate)
	}
	if math.Abs(utt.Duration-2.0) > 0.001 {
		t.Errorf("Expected duration 2.000, got %.3f", utt.Duration)
	}
	if utt.Size != len(wavData) {
		t.Errorf("Expected size %d, got %d", len(wavData), utt.Size)
	}
	if utt.ReceivedAt.IsZero() {
		t.Error("Expected non-zero receipt time")
	}

	// Normalized output must re-encode cleanly.
	if _, err := utt.WAV(); err != nil {
		t.Errorf("WAV re-encode failed: %v", err)
	}
}

func TestIngestRawPCM(t *testing.T) {
	samples := sineSamples(16000, 1.0, 220.0)
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(s >> 8)
	}

	utt, err := testIngress().Ingest(raw, "chunk.pcm")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if utt.Format != "pcm" {
		t.Errorf("Expected format pcm, got %s", utt.Format)
	}
	if utt.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", utt.SampleRate)
	}
	if len(utt.PCM) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(utt.PCM))
	}
}

func TestIngestUlaw(t *testing.T) {
	// 1 second at 8kHz: G.711 is one byte per sample.
	samples := sineSamples(8000, 1.0, 440.0)
	lpcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		lpcm[i*2] = byte(s)
		lpcm[i*2+1] = byte(s >> 8)
	}
	encoded := g711.EncodeUlaw(lpcm)

	utt, err := testIngress().Ingest(encoded, "call.ulaw")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if utt.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", utt.SampleRate)
	}
	if math.Abs(utt.Duration-1.0) > 0.01 {
		t.Errorf("Expected duration ~1.0, got %.3f", utt.Duration)
	}
}

func TestIngestRejectsUnknownFormat(t *testing.T) {
	_, err := testIngress().Ingest([]byte("not audio"), "song.mp3")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	_, err := testIngress().Ingest(nil, "speech.wav")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
}

func TestIngestRejectsOversizedPayload(t *testing.T) {
	ingress := NewIngress(IngressConfig{MinDuration: 0.1, MaxDuration: 30, MaxBytes: 100})
	_, err := ingress.Ingest(make([]byte, 200), "speech.wav")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
}

func TestIngestDurationBounds(t *testing.T) {
	ingress := NewIngress(IngressConfig{MinDuration: 0.5, MaxDuration: 3.0})

	short, err := EncodeWAV(sineSamples(16000, 0.2, 440.0), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	_, err = ingress.Ingest(short, "short.wav")
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("Expected ErrTooShort, got %v", err)
	}
	var durErr *DurationError
	if !errors.As(err, &durErr) {
		t.Fatalf("Expected DurationError, got %T", err)
	}
	if durErr.Bound != 0.5 {
		t.Errorf("Expected bound 0.5, got %f", durErr.Bound)
	}

	long, err := EncodeWAV(sineSamples(16000, 4.0, 440.0), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	_, err = ingress.Ingest(long, "long.wav")
	if !errors.Is(err, ErrTooLong) {
		t.Errorf("Expected ErrTooLong, got %v", err)
	}
}

func TestIngestOddPCMLength(t *testing.T) {
	_, err := testIngress().Ingest([]byte{1, 2, 3}, "chunk.pcm")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat for odd pcm length, got %v", err)
	}
}
