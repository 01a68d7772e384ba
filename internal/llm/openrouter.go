package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

func init() {
	register("openrouter", func(opts Options) (Client, error) {
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key")
		}
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		return &openRouterClient{
			apiKey:     opts.APIKey,
			baseURL:    strings.TrimRight(baseURL, "/"),
			model:      opts.Model,
			retry:      DefaultPolicy,
			httpClient: &http.Client{Timeout: opts.Timeout},
		}, nil
	})
}

// openRouterClient talks to the OpenRouter chat-completions API.
// Rate-limit responses (HTTP 429) are retried with exponential backoff;
// every other failure is returned to the caller as-is.
type openRouterClient struct {
	apiKey     string
	baseURL    string
	model      string
	retry      Policy
	httpClient *http.Client
}

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orResponseFormat struct {
	Type string `json:"type"`
}

type orChatRequest struct {
	Model          string            `json:"model"`
	Messages       []orMessage       `json:"messages"`
	ResponseFormat *orResponseFormat `json:"response_format,omitempty"`
}

type orChatResponse struct {
	Choices []struct {
		Message orMessage `json:"message"`
	} `json:"choices"`
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *openRouterClient) Complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	cr := orChatRequest{
		Model:    c.model,
		Messages: []orMessage{{Role: "user", Content: prompt}},
	}
	if jsonMode {
		cr.ResponseFormat = &orResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var content string
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		content, err = c.doChat(ctx, body)
		return err
	}, isRateLimit)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *openRouterClient) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result orChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return result.Choices[0].Message.Content, nil
}
