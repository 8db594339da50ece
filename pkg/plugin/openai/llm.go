package openai

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/munivoice/munivoice-go/pkg/ai/llm"
)

// ChatLLM generates assistant replies with the chat completions API.
type ChatLLM struct {
	client *goopenai.Client
	model  string
}

// NewChatLLM creates a chat-completions-backed LLM provider.
func NewChatLLM(cfg Config) (*ChatLLM, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &ChatLLM{
		client: goopenai.NewClient(cfg.APIKey),
		model:  cfg.LLMModel,
	}, nil
}

// Chat performs one completion over the conversation history.
func (c *ChatLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return llm.ChatResponse{}, classify(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("no completion choices returned")
	}

	choice := resp.Choices[0]
	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.MessageRole(choice.Message.Role),
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Capabilities returns the provider's capabilities.
func (c *ChatLLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          128000,
		SupportedModels:    []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"},
		SupportsSystemRole: true,
	}
}
