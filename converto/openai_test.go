package converto

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOpenAIClient implements OpenAIClient for tests.
type mockOpenAIClient struct {
	mu sync.Mutex

	embedFn    func(req openai.EmbeddingRequest) (openai.EmbeddingResponse, error)
	completeFn func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

	embedCalls    []openai.EmbeddingRequest
	completeCalls []openai.ChatCompletionRequest
}

func (m *mockOpenAIClient) CreateEmbeddings(
	_ context.Context,
	conv openai.EmbeddingRequestConverter,
) (openai.EmbeddingResponse, error) {
	req, _ := conv.(openai.EmbeddingRequest)
	m.mu.Lock()
	m.embedCalls = append(m.embedCalls, req)
	m.mu.Unlock()

	if m.embedFn != nil {
		return m.embedFn(req)
	}

	// one constant embedding per input, in order
	inputs, _ := req.Input.([]string)
	data := make([]openai.Embedding, len(inputs))
	for i := range inputs {
		data[i] = openai.Embedding{Embedding: []float32{1, 0}}
	}
	return openai.EmbeddingResponse{Data: data}, nil
}

func (m *mockOpenAIClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.completeCalls = append(m.completeCalls, request)
	m.mu.Unlock()

	if m.completeFn != nil {
		return m.completeFn(request)
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "mock answer"}},
		},
	}, nil
}

func (m *mockOpenAIClient) completionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completeCalls)
}

func newMockOpenAI(client OpenAIClient) *OpenAI {
	config := DefaultConfig().OpenAI
	return &OpenAI{
		client: client,
		config: config,
		logger: slog.Default(),
		mu:     &sync.RWMutex{},
	}
}

func TestEmbedTexts(t *testing.T) {
	mock := &mockOpenAIClient{}
	oai := newMockOpenAI(mock)

	embeddings, err := oai.EmbedTexts(
		context.Background(),
		[]string{"first", "second"},
	)
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, Vector{1, 0}, embeddings[0])

	require.Len(t, mock.embedCalls, 1)
	assert.Equal(
		t,
		openai.EmbeddingModel(DefaultOpenAIEmbeddingModel),
		mock.embedCalls[0].Model,
	)
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	mock := &mockOpenAIClient{}
	oai := newMockOpenAI(mock)

	embeddings, err := oai.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, embeddings)
	assert.Empty(t, mock.embedCalls)
}

func TestEmbedTextsSizeMismatch(t *testing.T) {
	mock := &mockOpenAIClient{
		embedFn: func(openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return openai.EmbeddingResponse{
				Data: []openai.Embedding{{Embedding: []float32{1}}},
			}, nil
		},
	}
	oai := newMockOpenAI(mock)

	_, err := oai.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestGenerateAnswer(t *testing.T) {
	mock := &mockOpenAIClient{
		completeFn: func(openai.ChatCompletionRequest) (
			openai.ChatCompletionResponse,
			error,
		) {
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{
						Message: openai.ChatCompletionMessage{
							Content: "  the answer \n",
						},
					},
				},
			}, nil
		},
	}
	oai := newMockOpenAI(mock)

	answer, err := oai.GenerateAnswer(
		context.Background(),
		"what is X?",
		"some context",
	)
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)

	require.Len(t, mock.completeCalls, 1)
	req := mock.completeCalls[0]
	assert.Equal(t, DefaultOpenAICompletionModel, req.Model)
	assert.InDelta(t, DefaultOpenAITemperature, req.Temperature, 1e-6)
	assert.Equal(t, DefaultOpenAIMaxTokens, req.MaxTokens)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, systemMessage, req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Contains(t, req.Messages[1].Content, "some context")
	assert.Contains(t, req.Messages[1].Content, "Question: what is X?")
}

func TestGenerateAnswerNoChoices(t *testing.T) {
	mock := &mockOpenAIClient{
		completeFn: func(openai.ChatCompletionRequest) (
			openai.ChatCompletionResponse,
			error,
		) {
			return openai.ChatCompletionResponse{}, nil
		},
	}
	oai := newMockOpenAI(mock)

	_, err := oai.GenerateAnswer(context.Background(), "q", "ctx")
	assert.Error(t, err)
}

func TestGenerateAnswerPropagatesError(t *testing.T) {
	mock := &mockOpenAIClient{
		completeFn: func(openai.ChatCompletionRequest) (
			openai.ChatCompletionResponse,
			error,
		) {
			return openai.ChatCompletionResponse{}, errors.New("api exploded")
		},
	}
	oai := newMockOpenAI(mock)

	_, err := oai.GenerateAnswer(context.Background(), "q", "ctx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api exploded")
}
