package providers

import (
	"context"
	"errors"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

type OpenAIClient struct {
	client *openai.Client
}

// OpenAi builds a client from options, falling back to OPENAI_API_BASE_URL
// and OPENAI_API_KEY
func OpenAi(opts ...ProviderOption) *OpenAIClient {
	params := &ProviderParams{}
	for _, opt := range opts {
		opt(params)
	}

	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = defaultOpenAIBaseURL
		}
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	requestOpts := []option.RequestOption{option.WithBaseURL(params.BaseURL)}
	if params.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(params.APIKey))
	}
	log.Debug().Str("base_url", params.BaseURL).Msg("Using OpenAI-compatible endpoint")

	return &OpenAIClient{
		client: openai.NewClient(requestOpts...),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	chatCompletion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		}),
		Model: openai.F(model),
	})
	if err != nil {
		return "", err
	}
	if len(chatCompletion.Choices) == 0 {
		return "", errors.New("openai: completion returned no choices")
	}
	return chatCompletion.Choices[0].Message.Content, nil
}
