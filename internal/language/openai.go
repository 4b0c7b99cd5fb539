package language

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configure the OpenAI adapter.
type OpenAIOptions struct {
	Model       string
	Temperature float64
}

// OpenAI implements Service on the Chat Completions API. Classification and
// extraction use strict JSON-schema outputs; Converse uses function calling.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
}

var _ Service = (*OpenAI)(nil)

// NewOpenAI creates an adapter from request options (API key, base URL, retries).
func NewOpenAI(opts OpenAIOptions, reqOpts ...option.RequestOption) *OpenAI {
	client := openai.NewClient(reqOpts...)
	return NewOpenAIFromClient(&client, opts)
}

// NewOpenAIFromClient creates an adapter from an existing client.
func NewOpenAIFromClient(client *openai.Client, opts OpenAIOptions) *OpenAI {
	if opts.Model == "" {
		opts.Model = openai.ChatModelGPT4oMini
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	return &OpenAI{client: client, opts: opts}
}

// ExtractField implements Service.
func (o *OpenAI) ExtractField(ctx context.Context, field, description, message string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := o.structured(ctx, extractFieldPrompt(field, description), message, "field_extraction", extractFieldSchema, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Value), nil
}

// DetectQuestionOrObjection implements Service.
func (o *OpenAI) DetectQuestionOrObjection(ctx context.Context, message, fieldKind string) (QuestionCheck, error) {
	var out QuestionCheck
	if err := o.structured(ctx, detectQuestionPrompt(fieldKind), message, "intent_detection", questionCheckSchema, &out); err != nil {
		return QuestionCheck{}, err
	}
	if out.Intent == "" {
		out.Intent = "unclear"
	}
	return out, nil
}

// ValidateAnswer implements Service.
func (o *OpenAI) ValidateAnswer(ctx context.Context, question, answer string) (AnswerCheck, error) {
	var out AnswerCheck
	userMessage := fmt.Sprintf("Resposta do usuário: %q", answer)
	if err := o.structured(ctx, validateAnswerPrompt(question), userMessage, "answer_validation", answerCheckSchema, &out); err != nil {
		return AnswerCheck{}, err
	}
	return out, nil
}

// GenerateText implements Service.
func (o *OpenAI) GenerateText(ctx context.Context, systemPrompt, userMessage string, history []ChatMessage) (string, error) {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: RoleUser, Content: userMessage})

	params := o.params(messages)
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Converse implements Service.
func (o *OpenAI) Converse(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (ConverseResult, error) {
	params := o.params(messages)
	if len(tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolParam, len(tools))
		for i, tdef := range tools {
			params.Tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Name,
					Description: openai.String(tdef.Description),
					Parameters:  tdef.Parameters,
				},
			}
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ConverseResult{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ConverseResult{}, ErrNoChoices
	}

	msg := resp.Choices[0].Message
	result := ConverseResult{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		result.ToolCall = &ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}
	return result, nil
}

func (o *OpenAI) structured(ctx context.Context, systemPrompt, userMessage, name string, schema map[string]any, out interface{}) error {
	params := o.params([]ChatMessage{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userMessage},
	})
	params.Temperature = openai.Float(0)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Strict: openai.Bool(true),
				Schema: schema,
			},
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ErrNoChoices
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (o *OpenAI) params(messages []ChatMessage) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages:    toOpenAIMessages(messages),
		Model:       o.opts.Model,
		Temperature: openai.Float(o.opts.Temperature),
	}
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}})
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
