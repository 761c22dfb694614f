// Package llm generates assistant replies through the OpenAI chat
// completion API.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/voice-dialogue-service/internal/conversation"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
)

const defaultSystemPrompt = "あなたは日本語の音声アシスタントです。以下のガイドラインに従ってください：\n\n" +
	"1. 簡潔で自然な日本語で応答してください\n" +
	"2. 音声で読み上げることを考慮し、長すぎる回答は避けてください\n" +
	"3. 丁寧語（です・ます調）を使用してください\n" +
	"4. 質問に対して正確かつ役立つ情報を提供してください\n" +
	"5. 分からないことは正直に「分かりません」と答えてください\n\n" +
	"応答は音声合成で読み上げられることを想定し、箇条書きや記号の使用は最小限にしてください。"

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 1000

	// Replies are read aloud; anything longer than this is a sign the
	// model ignored the prompt, so the transcript side caps input too.
	maxMessageLength = 4000

	defaultRetryAfter = 60
)

// Config holds the reply generator configuration. RetryAfter is the
// hint, in seconds, attached to rate-limit rejections.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
	RetryAfter   int
}

// Client implements reply generation against an OpenAI-compatible API.
type Client struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float32
	systemPrompt string
	retryAfter   int
}

// NewClient creates a reply generation client.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = defaultRetryAfter
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Client{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        config.Model,
		maxTokens:    config.MaxTokens,
		temperature:  config.Temperature,
		systemPrompt: config.SystemPrompt,
		retryAfter:   config.RetryAfter,
	}, nil
}

// Respond generates a reply for the transcript given prior conversation
// turns, oldest first. The returned error is always a typed
// *pipeline.Error when non-nil.
func (c *Client) Respond(ctx context.Context, transcript string, history []conversation.Message) (string, error) {
	if len([]rune(transcript)) > maxMessageLength {
		runes := []rune(transcript)
		transcript = string(runes[:maxMessageLength])
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.systemPrompt,
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: transcript,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", c.translateError(ctx, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", pipeline.NewError(pipeline.CodeLLMServiceUnavailable, "empty completion response", nil)
	}

	return resp.Choices[0].Message.Content, nil
}

func convertRole(role string) string {
	switch role {
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// translateError maps go-openai failures to pipeline codes. API errors
// carry a status code; anything without one never reached the API. A
// timeout only counts as one when the caller's context expired.
func (c *Client) translateError(ctx context.Context, err error) *pipeline.Error {
	if ctx.Err() != nil {
		return pipeline.Translate(pipeline.StageResponse, ctx.Err())
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			perr := pipeline.NewError(pipeline.CodeLLMRateLimited, "LLM API rate limit exceeded", err)
			perr.RetryAfter = c.retryAfter
			return perr
		case apiErr.HTTPStatusCode >= 500:
			return pipeline.NewError(pipeline.CodeLLMServiceUnavailable, apiErr.Message, err)
		default:
			return pipeline.NewError(pipeline.CodeLLMServiceUnavailable, apiErr.Message, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return pipeline.NewError(pipeline.CodeLLMServiceUnavailable, err.Error(), err)
	}

	// No HTTP response at all: transport failure.
	return pipeline.NewError(pipeline.CodeLLMConnectionError, err.Error(), err)
}
