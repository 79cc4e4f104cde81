package oracle

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

	"github.com/suspectuso/runes-oracle/internal/runes"
)

const systemPrompt = "Ты психолог, использующий скандинавские руны как ассоциативные карты. " +
	"Даёшь рациональные интерпретации, основанные на символизме рун и " +
	"современной психологии. Избегай мистики и предсказаний."

// ErrUnavailable marks any failure to get an interpretation
var ErrUnavailable = errors.New("oracle unavailable")

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
			Status  string  `json:"status"`
		} `json:"alternatives"`
	} `json:"result"`
}

// Client is a YandexGPT completion client
type Client struct {
	url        string
	apiKey     string
	folderID   string
	httpClient *http.Client
}

// NewClient creates a new YandexGPT client
func NewClient(url, apiKey, folderID string) *Client {
	return &Client{
		url:      url,
		apiKey:   apiKey,
		folderID: folderID,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Interpret asks the model to read the drawn runes against the question
func (c *Client) Interpret(ctx context.Context, question string, spread runes.Spread, drawn []runes.Drawn) (string, error) {
	body := completionRequest{
		ModelURI: fmt.Sprintf("gpt://%s/yandexgpt-lite", c.folderID),
		CompletionOptions: completionOptions{
			Temperature: 0.6,
			MaxTokens:   "2000",
		},
		Messages: []message{
			{Role: "system", Text: systemPrompt},
			{Role: "user", Text: Prompt(question, spread, drawn)},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("x-folder-id", c.folderID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: do request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: API error %d: %s", ErrUnavailable, resp.StatusCode, string(data))
	}

	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: unmarshal: %v", ErrUnavailable, err)
	}
	if len(out.Result.Alternatives) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	text := strings.TrimSpace(out.Result.Alternatives[0].Message.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return text, nil
}

// Prompt renders the user message for a spread
func Prompt(question string, spread runes.Spread, drawn []runes.Drawn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Расклад «%s». Вопрос: %s\n", spread.Title, strings.TrimSpace(question))
	for _, d := range drawn {
		if d.Position != "" {
			fmt.Fprintf(&b, "%s: %s (%s)\n", d.Position, d.Title(), d.Meaning)
		} else {
			fmt.Fprintf(&b, "%s (%s)\n", d.Title(), d.Meaning)
		}
	}
	b.WriteString("Дай интерпретацию расклада применительно к вопросу.")
	return b.String()
}
