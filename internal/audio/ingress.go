package audio

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zaf/g711"
)

// Sentinel errors surfaced by Ingest. Callers translate these into the
// boundary error taxonomy.
var (
	ErrInvalidFormat = errors.New("unsupported audio format")
	ErrTooShort      = errors.New("audio duration below minimum")
	ErrTooLong       = errors.New("audio duration above maximum")
)

// DurationError reports an utterance whose decoded duration falls outside the
// configured bounds. It unwraps to ErrTooShort or ErrTooLong.
type DurationError struct {
	Duration float64
	Bound    float64
	TooLong  bool
}

func (e *DurationError) Error() string {
	if e.TooLong {
		return fmt.Sprintf("audio duration %.3fs exceeds maximum %.3fs", e.Duration, e.Bound)
	}
	return fmt.Sprintf("audio duration %.3fs below minimum %.3fs", e.Duration, e.Bound)
}

func (e *DurationError) Unwrap() error {
	if e.TooLong {
		return ErrTooLong
	}
	return ErrTooShort
}

// Utterance is one normalized unit of input audio for a single pipeline run.
// Immutable once created.
type Utterance struct {
	Raw        []byte
	Format     string
	PCM        []int16
	SampleRate int
	Duration   float64
	Size       int
	ReceivedAt time.Time
}

// WAV re-encodes the normalized PCM as a mono 16-bit WAV payload, the format
// the recognition engine consumes regardless of what the caller uploaded.
func (u *Utterance) WAV() ([]byte, error) {
	return EncodeWAV(u.PCM, u.SampleRate)
}

// IngressConfig contains the externally supplied validation thresholds.
type IngressConfig struct {
	MinDuration   float64 // seconds
	MaxDuration   float64 // seconds
	MaxBytes      int     // upload size ceiling
	PCMSampleRate int     // assumed rate for headerless pcm uploads
}

// Ingress validates and decodes uploaded utterances. No network calls; every
// rejection happens before any engine is contacted.
type Ingress struct {
	cfg IngressConfig
}

// NewIngress creates an Ingress with the given thresholds.
func NewIngress(cfg IngressConfig) *Ingress {
	if cfg.PCMSampleRate <= 0 {
		cfg.PCMSampleRate = 16000
	}
	return &Ingress{cfg: cfg}
}

// Ingest validates the declared format against the allow-list, decodes the
// payload to normalized PCM-16, and enforces the configured duration bounds.
func (i *Ingress) Ingest(data []byte, filename string) (*Utterance, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFormat)
	}

	if i.cfg.MaxBytes > 0 && len(data) > i.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d byte limit",
			ErrInvalidFormat, len(data), i.cfg.MaxBytes)
	}

	format := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")

	var (
		samples    []int16
		sampleRate int
		err        error
	)

	switch format {
	case "wav":
		samples, sampleRate, err = DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
		}
	case "pcm", "raw":
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("%w: pcm payload length must be even", ErrInvalidFormat)
		}
		samples = bytesToPCM(data)
		sampleRate = i.cfg.PCMSampleRate
		format = "pcm"
	case "ulaw", "ul":
		samples = bytesToPCM(g711.DecodeUlaw(data))
		sampleRate = 8000
		format = "ulaw"
	case "alaw", "al":
		samples = bytesToPCM(g711.DecodeAlaw(data))
		sampleRate = 8000
		format = "alaw"
	default:
		return nil, fmt.Errorf("%w: %q (supported: wav, pcm, ulaw, alaw)", ErrInvalidFormat, format)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no audio data", ErrInvalidFormat)
	}

	duration := float64(len(samples)) / float64(sampleRate)
	if duration < i.cfg.MinDuration {
		return nil, &DurationError{Duration: duration, Bound: i.cfg.MinDuration}
	}
	if i.cfg.MaxDuration > 0 && duration > i.cfg.MaxDuration {
		return nil, &DurationError{Duration: duration, Bound: i.cfg.MaxDuration, TooLong: true}
	}

	return &Utterance{
		Raw:        data,
		Format:     format,
		PCM:        samples,
		SampleRate: sampleRate,
		Duration:   duration,
		Size:       len(data),
		ReceivedAt: time.Now(),
	}, nil
}

// bytesToPCM reinterprets little-endian 16-bit bytes as samples.
func bytesToPCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
