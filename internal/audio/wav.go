package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// WAVInfo describes a decoded WAV payload after normalization to mono PCM-16.
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      int     `json:"data_size_bytes"`
}

// EncodeWAV encodes PCM-16 mono samples into a WAV container.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a WAV container into PCM-16 mono samples. Multi-channel
// input is downmixed by averaging channels. Sub-chunks other than "fmt " and
// "data" (LIST, fact, cue) are skipped, so files produced by common encoders
// decode without pre-stripping.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		haveFmt    bool
		pcmData    []byte
	)

	// Walk sub-chunks starting after the RIFF descriptor.
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if chunkSize < 0 || body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("invalid WAV file: fmt chunk too small (%d bytes)", chunkSize)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcmData = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
		if haveFmt && pcmData != nil {
			break
		}
	}

	if !haveFmt {
		return nil, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if pcmData == nil {
		return nil, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bits)
	}
	if channels < 1 {
		return nil, 0, fmt.Errorf("invalid channel count: %d", channels)
	}
	if sampleRate <= 0 {
		return nil, 0, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	frameSize := channels * 2
	numFrames := len(pcmData) / frameSize
	if numFrames == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numFrames)
	for i := 0; i < numFrames; i++ {
		base := i * frameSize
		if channels == 1 {
			samples[i] = int16(binary.LittleEndian.Uint16(pcmData[base : base+2]))
			continue
		}
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2])))
		}
		samples[i] = int16(sum / channels)
	}

	return samples, sampleRate, nil
}

// GetWAVInfo decodes a WAV payload and reports its normalized properties.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &WAVInfo{
		SampleRate:    sampleRate,
		Channels:      1,
		BitsPerSample: 16,
		Duration:      float64(len(samples)) / float64(sampleRate),
		DataSize:      len(samples) * 2,
	}, nil
}

// GetWAVDuration returns the duration of a WAV payload in seconds.
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}
