package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrBackend marks a model call that failed after the client's own
// rate-limit backoff. The caller decides whether to retry the step.
var ErrBackend = errors.New("model backend error")

const safeDOMLimit = 60000

type openAIBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(model, baseURL, apiKey string) *openAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (b *openAIBackend) DecideAction(ctx context.Context, input DecisionInput) (*Decision, error) {
	var sb strings.Builder
	sb.WriteString("USER TASK: " + input.Task + "\n")
	sb.WriteString("CURRENT URL: " + input.CurrentURL + "\n")
	if input.History != "" {
		sb.WriteString("HISTORY:\n" + input.History + "\n")
	}

	dom := input.DOMTree
	if len(dom) > safeDOMLimit {
		dom = dom[:safeDOMLimit] + "\n...[TRUNCATED]"
	}
	sb.WriteString("\nDOM:\n" + dom)

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: sb.String()},
	}
	if input.ScreenshotBase64 != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/jpeg;base64," + input.ScreenshotBase64,
			},
		})
	}

	resp, err := b.complete(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: decisionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBackend)
	}

	var out Decision
	content := strings.Trim(resp.Choices[0].Message.Content, "`")
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: parse decision: %v | content: %.200s", ErrBackend, err, content)
	}
	normalizeActionType(&out.Action)
	return &out, nil
}

func (b *openAIBackend) Summarize(ctx context.Context, input SummaryInput) (string, error) {
	var sb strings.Builder
	sb.WriteString("TASK:\n" + input.Task + "\n\n")
	sb.WriteString("EXIT_REASON:\n" + input.ExitReason + "\n\n")
	sb.WriteString("DURATION:\n" + input.Duration + "\n\n")
	if input.FinalURL != "" {
		sb.WriteString("FINAL_URL:\n" + input.FinalURL + "\n\n")
	}
	if len(input.Steps) > 0 {
		sb.WriteString("STEPS:\n")
		for _, s := range input.Steps {
			sb.WriteString(s + "\n")
		}
	}

	resp, err := b.complete(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no summary choices", ErrBackend)
	}
	return resp.Choices[0].Message.Content, nil
}

// complete wraps the chat call with exponential backoff on 429 responses.
// Any other error is returned to the caller immediately.
func (b *openAIBackend) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		resp, err = b.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !strings.Contains(err.Error(), "429") {
			return resp, err
		}
		select {
		case <-time.After(time.Duration(3*(1<<attempt)) * time.Second):
		case <-ctx.Done():
			return resp, ctx.Err()
		}
	}
	return resp, err
}

func normalizeActionType(a *Action) {
	switch strings.ToLower(string(a.Type)) {
	case "navigate", "goto":
		a.Type = ActionNavigate
	case "click":
		a.Type = ActionClick
	case "type", "fill", "input":
		a.Type = ActionTypeInput
	case "scroll", "scroll_down":
		a.Type = ActionScroll
	case "extract":
		a.Type = ActionExtract
	case "finish", "done":
		a.Type = ActionFinish
	default:
		a.Type = ActionScroll
	}
}
