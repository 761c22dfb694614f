// Package stt provides the HTTP client for the speech recognition engine.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
)

// Config contains recognition client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Language      string
}

// Client sends utterances to the recognition engine as multipart WAV
// uploads. Transient failures are retried with exponential backoff; the
// overall attempt is still bounded by the caller's context deadline.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Stats represents client statistics.
type Stats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type recognitionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// httpError carries the engine's status code so retry and translation
// decisions do not depend on message text.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.status, e.body)
}

// NewClient creates a recognition client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Recognize transcribes the utterance. The returned error is always a
// typed *pipeline.Error when non-nil.
func (c *Client) Recognize(ctx context.Context, utt *audio.Utterance) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", pipeline.Translate(pipeline.StageRecognition, ctx.Err())
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	wav, err := utt.WAV()
	if err != nil {
		c.incrementFailedRequests()
		return "", pipeline.NewError(pipeline.CodeInvalidAudioFormat, err.Error(), err)
	}

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			// Short base so retries fit inside an interactive deadline.
			backoff := time.Duration(1<<(attempt-1)) * 250 * time.Millisecond
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return "", pipeline.Translate(pipeline.StageRecognition, ctx.Err())
			}
		}

		text, err := c.doRequest(ctx, wav, utt)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return text, nil
		}

		lastErr = err

		if !isRetryable(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return "", translateFailure(ctx, lastErr)
}

func (c *Client) doRequest(ctx context.Context, wav []byte, utt *audio.Utterance) (string, error) {
	body, contentType, err := c.createMultipartRequest(wav, utt)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Voice-Dialogue-Service/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpError{status: resp.StatusCode, body: string(respBody)}
	}

	var recResp recognitionResponse
	if err := sonic.Unmarshal(respBody, &recResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return recResp.Text, nil
}

func (c *Client) createMultipartRequest(wav []byte, utt *audio.Utterance) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"sample_rate": fmt.Sprintf("%d", utt.SampleRate),
		"duration":    fmt.Sprintf("%.3f", utt.Duration),
		"format":      "wav",
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryable reports whether a single failed attempt is worth retrying.
// Engine 5xx and 429 responses and transport failures are; engine 4xx
// rejections are not.
func isRetryable(err error) bool {
	var herr *httpError
	if errors.As(err, &herr) {
		return herr.status >= 500 || herr.status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	// Transport-level failure.
	return true
}

// translateFailure maps the final attempt's error to a pipeline code: an
// engine 4xx means recognition rejected the audio, anything else means
// the engine is unavailable. Only an expired caller context counts as a
// timeout; a per-attempt timeout with request budget left reports the
// engine as unavailable.
func translateFailure(ctx context.Context, err error) *pipeline.Error {
	if ctx.Err() != nil {
		return pipeline.Translate(pipeline.StageRecognition, ctx.Err())
	}
	var herr *httpError
	if errors.As(err, &herr) && herr.status >= 400 && herr.status < 500 {
		return pipeline.NewError(pipeline.CodeRecognitionFailed, herr.Error(), err)
	}
	return pipeline.NewError(pipeline.CodeSTTServiceUnavailable, err.Error(), err)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return Stats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to drain.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
