package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI chat-completions wire format. It covers
// any compatible endpoint (Cerebras, OpenRouter, OpenAI itself) selected by
// BaseURL.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.cerebras.ai/v1"
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type openAIChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openAIChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", genErr(ctx, ErrTransport, errors.New("openai: http client is nil"))
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", genErr(ctx, ErrRejected, errors.New("openai: api key is required"))
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", genErr(ctx, ErrRejected, errors.New("openai: model is required"))
	}

	reqBody := openAIChatReq{
		Model:    model,
		Stream:   false,
		Messages: messages,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", genErr(ctx, ErrTransport, err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", genErr(ctx, ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", genErr(ctx, ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", genErr(ctx, ErrRejected, fmt.Errorf("openai: %s", msg))
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", genErr(ctx, ErrTransport, err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", genErr(ctx, ErrRejected, errors.New(decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return "", genErr(ctx, ErrRejected, errors.New("openai: empty response"))
	}
	return decoded.Choices[0].Message.Content, nil
}
