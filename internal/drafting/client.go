package drafting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/circuitbreaker"
	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

const maxBodyChars = 8000

// Client talks to an OpenAI-compatible chat completions endpoint. It
// implements service.Triager and service.Drafter.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.DraftingConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewCircuitBreaker("drafting", circuitbreaker.DefaultConfig()),
		logger:     log.Named("drafting"),
	}
}

type triageReply struct {
	Category   string `json:"category"`
	Priority   int    `json:"priority"`
	Summary    string `json:"summary"`
	NeedsReply bool   `json:"needs_reply"`
	Confidence int    `json:"confidence"`
}

// Triage asks the model for category, priority and a short summary.
func (c *Client) Triage(ctx context.Context, e *model.Email) (service.TriageResult, error) {
	content, err := c.complete(ctx, "triage", triageSystemPrompt, triagePrompt(e), 0.2)
	if err != nil {
		return service.TriageResult{}, err
	}

	var r triageReply
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &r); err != nil {
		return service.TriageResult{}, fmt.Errorf("failed to parse triage JSON: %w", err)
	}
	return service.TriageResult{
		Category:   parseCategory(r.Category),
		Priority:   r.Priority,
		Summary:    strings.TrimSpace(r.Summary),
		NeedsReply: r.NeedsReply,
		Confidence: clampPercent(r.Confidence),
	}, nil
}

// Summarize returns two or three sentences about e.
func (c *Client) Summarize(ctx context.Context, e *model.Email) (string, error) {
	content, err := c.complete(ctx, "summarize", draftingSystemPrompt, summaryPrompt(e), 0.3)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type draftReply struct {
	Body       string `json:"body"`
	Confidence int    `json:"confidence"`
}

// Draft writes a reply, or revises e.CurrentDraft when instructions is set.
// Instructions for an email with no draft yet guide the first draft.
// A reply that is not the requested JSON is taken as the body with zero
// confidence, so it can never qualify for auto-send.
func (c *Client) Draft(ctx context.Context, e *model.Email, instructions string) (service.DraftResult, error) {
	prompt := draftPrompt(e, instructions)
	if instructions != "" && e.CurrentDraft != "" {
		prompt = revisePrompt(e, instructions)
	}
	content, err := c.complete(ctx, "draft", draftingSystemPrompt, prompt, 0.7)
	if err != nil {
		return service.DraftResult{}, err
	}

	var r draftReply
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &r); err != nil || r.Body == "" {
		c.logger.Debug("Draft reply was not JSON, using raw text", zap.Int64("email_id", e.ID))
		return service.DraftResult{Body: strings.TrimSpace(content)}, nil
	}
	return service.DraftResult{
		Body:       strings.TrimSpace(r.Body),
		Confidence: clampPercent(r.Confidence),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete runs one chat completion through the breaker. Non-2xx replies
// come back as *util.StatusError so the caller's retry policy can classify
// them.
func (c *Client) complete(ctx context.Context, op, system, prompt string, temperature float64) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var content string
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &util.StatusError{Op: op, Code: resp.StatusCode, Body: truncate(string(body), 200)}
		}

		var cr chatResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			return fmt.Errorf("failed to parse API response: %w", err)
		}
		if len(cr.Choices) == 0 {
			return fmt.Errorf("%s: no choices in response", op)
		}
		content = cr.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		logger.WithTrace(ctx, c.logger).Warn("Completion failed", zap.String("op", op), zap.Error(err))
		return "", err
	}
	return content, nil
}

// cleanJSONResponse strips fences and prose around the first JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start > end {
		return content
	}
	return strings.TrimSpace(content[start : end+1])
}

func parseCategory(s string) model.Category {
	switch c := model.Category(strings.ToLower(strings.TrimSpace(s))); c {
	case model.CategoryUrgent, model.CategoryActionRequired, model.CategoryFYI,
		model.CategoryMeeting, model.CategoryAlert, model.CategorySpamCandidate,
		model.CategoryForwardCandidate:
		return c
	}
	return model.CategoryUncategorized
}

func clampPercent(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
