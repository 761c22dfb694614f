// Package tts provides the HTTP client for the speech synthesis engine.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
)

// Config contains synthesis client configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client posts reply text to the synthesis engine and receives WAV audio
// back. Sample rate and audio length arrive as response headers; when the
// engine omits them they are recovered from the WAV itself.
type Client struct {
	config     Config
	httpClient *http.Client
}

type synthesisRequest struct {
	Text  string  `json:"text"`
	Speed float64 `json:"speed,omitempty"`
}

// NewClient creates a synthesis client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Synthesize renders text as speech. The returned error is always a
// typed *pipeline.Error when non-nil.
func (c *Client) Synthesize(ctx context.Context, text string, speed float64) (*pipeline.SynthesisResult, error) {
	if text == "" {
		return nil, pipeline.NewError(pipeline.CodeSynthesisFailed, "empty synthesis text", nil)
	}

	payload, err := sonic.Marshal(synthesisRequest{Text: text, Speed: speed})
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeSynthesisFailed, err.Error(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeSynthesisFailed, err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// A timeout only counts as one when the caller's context
		// expired; an internal client timeout means the engine is slow.
		if ctx.Err() != nil {
			return nil, pipeline.Translate(pipeline.StageSynthesis, ctx.Err())
		}
		return nil, pipeline.NewError(pipeline.CodeTTSServiceUnavailable, err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeTTSServiceUnavailable, err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, pipeline.NewError(pipeline.CodeTTSServiceUnavailable, msg, nil)
		}
		return nil, pipeline.NewError(pipeline.CodeSynthesisFailed, msg, nil)
	}

	result := &pipeline.SynthesisResult{WAV: body}

	if v := resp.Header.Get("X-Sample-Rate"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			result.SampleRate = rate
		}
	}
	if v := resp.Header.Get("X-Audio-Length"); v != "" {
		if length, err := strconv.ParseFloat(v, 64); err == nil {
			result.Duration = length
		}
	}

	if result.SampleRate == 0 || result.Duration == 0 {
		info, err := audio.GetWAVInfo(body)
		if err != nil {
			return nil, pipeline.NewError(pipeline.CodeSynthesisFailed,
				fmt.Sprintf("engine returned invalid WAV: %s", err), err)
		}
		if result.SampleRate == 0 {
			result.SampleRate = info.SampleRate
		}
		if result.Duration == 0 {
			result.Duration = info.Duration
		}
	}

	return result, nil
}
