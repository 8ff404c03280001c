package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You assist a municipal innovation team with approval gates.
Given a gate and its checklists as JSON, reply with a JSON object with keys:
"summary" (string), "suggestions" (array of strings), "scores" (object of 0..1 numbers, e.g. "readiness", "completeness").
For role "requester" focus on what is missing before submission. For role "reviewer" focus on risks to check before deciding.
Never recommend a decision.`

// OpenAIAdvisor asks an OpenAI compatible chat completion endpoint for advice.
type OpenAIAdvisor struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdvisor(apiKey, baseURL, model string) *OpenAIAdvisor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIAdvisor{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIAdvisor) Name() string { return "openai:" + o.model }

func (o *OpenAIAdvisor) Advise(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai returned no choices")
	}
	var res Result
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return Result{}, fmt.Errorf("decode advisory response: %w", err)
	}
	if res.Summary == "" {
		return Result{}, fmt.Errorf("advisory response has no summary")
	}
	return res, nil
}
