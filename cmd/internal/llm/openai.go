package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIProvider speaks the OpenAI chat completions API (and compatible servers via base URL).
type OpenAIProvider struct {
	client openai.Client
}

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}

// NewOpenAIProvider constructs an OpenAIProvider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoCredentials
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

// Stream implements Provider. Transport errors surface from the first Next call.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	var opts []option.RequestOption
	if req.WebSearch {
		opts = append(opts, option.WithJSONSet("web_search_options", map[string]any{}))
	}
	return &openAIStream{s: p.client.Chat.Completions.NewStreaming(ctx, params, opts...)}, nil
}

func toOpenAIMessages(in []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

type openAIStream struct {
	s     *ssestream.Stream[openai.ChatCompletionChunk]
	delta string
	usage Usage
}

func (s *openAIStream) Next() bool {
	for s.s.Next() {
		chunk := s.s.Current()
		if chunk.Usage.TotalTokens > 0 {
			s.usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.delta = chunk.Choices[0].Delta.Content
		return true
	}
	s.delta = ""
	return false
}

func (s *openAIStream) Delta() string { return s.delta }
func (s *openAIStream) Usage() Usage  { return s.usage }
func (s *openAIStream) Err() error    { return s.s.Err() }
func (s *openAIStream) Close() error  { return s.s.Close() }
