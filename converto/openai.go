package converto

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"log/slog"
)

// OpenAIClient defines the methods used from `openai.Client`, to enable
// testing/mocking.
type OpenAIClient interface {
	// CreateEmbeddings requests embeddings for the given input
	CreateEmbeddings(
		ctx context.Context,
		conv openai.EmbeddingRequestConverter,
	) (openai.EmbeddingResponse, error)

	// CreateChatCompletion requests a chat completion
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// OpenAI wraps the OpenAI client used for embedding queries and generating
// answers, applying a request-per-second ceiling to all outbound calls.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	mu *sync.RWMutex // primarily just protects requestLimiter
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		config: config,
		mu:     &sync.RWMutex{},
		logger: newTintLogger(config.LogLevel, "openai"),
	}

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	if config.MaxRequestsPerSecond > 0 {
		o.requestLimiter = rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		)
	}
	return o
}

// EmbedTexts returns one embedding per input text, in input order.
func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return nil, err
	}

	o.logger.DebugContext(ctx, "requesting embeddings", "texts", len(texts))
	resp, err := o.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(o.config.EmbeddingModel),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf(
			"embeddings response size mismatch: sent %d, got %d",
			len(texts),
			len(resp.Data),
		)
	}

	embeddings := make([]Vector, len(resp.Data))
	for i, item := range resp.Data {
		embeddings[i] = Vector(item.Embedding)
	}
	return embeddings, nil
}

// EmbedText returns the embedding for a single text.
func (o *OpenAI) EmbedText(ctx context.Context, text string) (Vector, error) {
	embeddings, err := o.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("embeddings response was empty")
	}
	return embeddings[0], nil
}

// GenerateAnswer produces an answer to the given query, grounded on the
// given context, using a chat completion.
func (o *OpenAI) GenerateAnswer(
	ctx context.Context,
	query string,
	contextText string,
) (string, error) {
	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return "", err
	}

	resp, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: o.config.CompletionModel,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemMessage,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: userMessage(contextText, query),
				},
			},
			Temperature: o.config.Temperature,
			MaxTokens:   o.config.MaxTokens,
		},
	)
	if err != nil {
		o.logger.ErrorContext(ctx, "error generating answer", tint.Err(err))
		return "", fmt.Errorf("error generating answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion response had no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// waitOnRequestLimiter waits for the request limiter to allow the next
// request, or returns the context error if canceled first.
func (o *OpenAI) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()

	if requestLimiter == nil {
		return nil
	}
	return requestLimiter.Wait(ctx)
}
