package llm

import (
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lexiqai/callback-agent/internal/resilience"
)

// OpenAIClient implements Client using the OpenAI chat completions API,
// wrapped in the same circuit breaker every other collaborator in this
// repository uses.
type OpenAIClient struct {
	client oai.Client
	model  string
	cb     *resilience.CircuitBreaker
}

// NewOpenAIClient constructs an OpenAIClient for the given model
// (LLM_MODEL, default "gpt-4o-mini").
func NewOpenAIClient(apiKey, model string, cbMaxFailures int, cbResetTimeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: LLM_API_KEY must not be empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: client,
		model:  model,
		cb:     resilience.NewCircuitBreaker("llm", cbMaxFailures, cbResetTimeout),
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("llm: build params: %w", err)
	}

	var resp *CompletionResponse
	err = c.cb.Call(func() error {
		r, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("llm: chat completion: %w", err)
		}
		if len(r.Choices) == 0 {
			return fmt.Errorf("llm: empty choices in response")
		}

		choice := r.Choices[0]
		out := &CompletionResponse{Text: choice.Message.Content}
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		resp = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (c *OpenAIClient) buildParams(req CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}

	params.Temperature = param.NewOpt(req.Temperature)
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}

	return params, nil
}

func convertMessage(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("llm: unknown message role %q", m.Role)
	}
}
