// Package openai provides a TextGenerator backed by an OpenAI-compatible
// chat endpoint, such as the one Ollama serves under /v1.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
)

// ServiceName tags errors raised by the inference engine adapters.
const ServiceName = "ollama"

// Client implements ports.TextGenerator.
type Client struct {
	client  *openai.Client
	timeout time.Duration
}

// NewClient creates a client for the engine described by cfg.
func NewClient(cfg config.EngineConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("engine base URL is required")
	}

	return &Client{
		client:  openai.NewClientWithConfig(ClientConfig(cfg.BaseURL, cfg.APIKey)),
		timeout: cfg.Timeout,
	}, nil
}

// ClientConfig builds a go-openai config for an engine root URL such as
// http://localhost:11434. The OpenAI-compatible routes live under /v1.
func ClientConfig(baseURL, apiKey string) openai.ClientConfig {
	if apiKey == "" {
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{}
	return cfg
}

// Generate returns the full completion for req.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, chatRequest(req))
	if err != nil {
		return "", Classify(ServiceName, req.Model, c.timeout, err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.Generation(ServiceName, "no choices returned", nil)
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errs.Generation(ServiceName, "empty completion", nil)
	}
	return content, nil
}

// GenerateStream calls onChunk for every delta and returns the concatenated text.
func (c *Client) GenerateStream(ctx context.Context, req ports.GenerateRequest, onChunk func(string)) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	chat := chatRequest(req)
	chat.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, chat)
	if err != nil {
		return "", Classify(ServiceName, req.Model, c.timeout, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", Classify(ServiceName, req.Model, c.timeout, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", errs.Generation(ServiceName, "empty completion", nil)
	}
	return sb.String(), nil
}

// Describe sends image to a vision model as a data URL alongside prompt.
func (c *Client) Describe(ctx context.Context, model, prompt string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errs.Validation("image is empty")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	dataURL := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return "", Classify(ServiceName, model, c.timeout, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errs.Generation(ServiceName, "empty image description", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func chatRequest(req ports.GenerateRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chat := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chat
}
