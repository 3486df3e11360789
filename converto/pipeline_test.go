package converto

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTranscriptSource struct {
	transcripts []Transcript
	err         error
	marked      []string
	markErr     error
}

func (s *stubTranscriptSource) UnindexedTranscripts(
	_ context.Context,
) ([]Transcript, error) {
	return s.transcripts, s.err
}

func (s *stubTranscriptSource) MarkPageIndexed(
	_ context.Context,
	pageID string,
) error {
	s.marked = append(s.marked, pageID)
	return s.markErr
}

type stubEmbedder struct {
	failures int
	calls    int
	err      error
}

func (s *stubEmbedder) EmbedTexts(
	_ context.Context,
	texts []string,
) ([]Vector, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.failures {
		return nil, errors.New("transient embedding error")
	}
	embeddings := make([]Vector, len(texts))
	for i := range texts {
		embeddings[i] = Vector{1, 0}
	}
	return embeddings, nil
}

func newTestIndexer(
	t testing.TB,
	source transcriptSource,
	embedder embeddingClient,
) (*Indexer, *ChunkStore, *[]time.Duration) {
	t.Helper()

	store := newTestChunkStore(t)
	config := &PipelineConfig{
		SearchResults:      5,
		ChunkSize:          5,
		ChunkOverlap:       2,
		EmbeddingBatchSize: 2,
		EmbeddingRetries:   3,
	}
	ix := newIndexer(source, embedder, store, config, slog.Default())

	var sleeps []time.Duration
	ix.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return ix, store, &sleeps
}

func TestIndexerSync(t *testing.T) {
	source := &stubTranscriptSource{
		transcripts: []Transcript{
			{
				PageID:  "page-1",
				Title:   "Landing Pages",
				Course:  "CRO",
				Content: numberedWords(12),
			},
		},
	}
	ix, store, _ := newTestIndexer(t, source, &stubEmbedder{})

	report, err := ix.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 4, report.Chunks)
	assert.Empty(t, report.Failed)
	assert.Equal(t, []string{"page-1"}, source.marked)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	content, err := store.LessonContent(
		context.Background(),
		"CRO",
		"Landing Pages",
	)
	require.NoError(t, err)
	assert.Contains(t, content, "w0")
	assert.Contains(t, content, "w11")
}

func TestIndexerSyncRetriesWithBackoff(t *testing.T) {
	source := &stubTranscriptSource{
		transcripts: []Transcript{
			{PageID: "page-1", Title: "T", Course: "C", Content: "one two three"},
		},
	}
	embedder := &stubEmbedder{failures: 2}
	ix, _, sleeps := newTestIndexer(t, source, embedder)

	report, err := ix.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)

	assert.Equal(t, 3, embedder.calls)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, *sleeps)
}

func TestIndexerSyncRecordsFailedPages(t *testing.T) {
	source := &stubTranscriptSource{
		transcripts: []Transcript{
			{PageID: "page-1", Title: "A", Course: "C", Content: "alpha"},
			{PageID: "page-2", Title: "B", Course: "C", Content: "bravo"},
		},
	}
	embedder := &stubEmbedder{err: errors.New("quota exceeded")}
	ix, store, _ := newTestIndexer(t, source, embedder)

	report, err := ix.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Pages)
	assert.Equal(t, []string{"page-1", "page-2"}, report.Failed)

	// failed pages stay un-indexed in the source
	assert.Empty(t, source.marked)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexerSyncSkipsEmptyPages(t *testing.T) {
	source := &stubTranscriptSource{
		transcripts: []Transcript{
			{PageID: "page-1", Title: "Empty", Course: "C", Content: "   "},
		},
	}
	ix, _, _ := newTestIndexer(t, source, &stubEmbedder{})

	report, err := ix.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	assert.Zero(t, report.Chunks)
	assert.Equal(t, []string{"page-1"}, source.marked)
}

func TestIndexerSyncSourceError(t *testing.T) {
	source := &stubTranscriptSource{err: errors.New("notion unavailable")}
	ix, _, _ := newTestIndexer(t, source, &stubEmbedder{})

	_, err := ix.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion unavailable")
}

func newTestPipeline(
	t testing.TB,
	client OpenAIClient,
) (*answerPipeline, *ChunkStore) {
	t.Helper()
	store := newTestChunkStore(t)
	return newAnswerPipeline(
		newMockOpenAI(client),
		store,
		DefaultConfig().Pipeline,
		slog.Default(),
	), store
}

func TestAnswerPipelineAsk(t *testing.T) {
	mock := &mockOpenAIClient{}
	pipeline, store := newTestPipeline(t, mock)

	seedPage(t, store, "page-a", "CRO", "Landing Pages", Vector{1, 0})

	answer, err := pipeline.Ask(context.Background(), "what is a landing page?")
	require.NoError(t, err)
	assert.Equal(t, "mock answer", answer)

	require.Equal(t, 1, mock.completionCount())
	contextText := mock.completeCalls[0].Messages[1].Content
	assert.Contains(t, contextText, "Course: CRO")
	assert.Contains(t, contextText, "Title: Landing Pages")
	assert.Contains(t, contextText, "Landing Pages part 0")
}

func TestAnswerPipelineAskNothingRelevant(t *testing.T) {
	mock := &mockOpenAIClient{}
	pipeline, _ := newTestPipeline(t, mock)

	answer, err := pipeline.Ask(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, noRelevantInformation, answer)

	// no completion call when the knowledge base has nothing to offer
	assert.Zero(t, mock.completionCount())
}

func TestAnswerPipelineAskEmbeddingError(t *testing.T) {
	mock := &mockOpenAIClient{
		embedFn: func(openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return openai.EmbeddingResponse{}, errors.New("embedding failed")
		},
	}
	pipeline, _ := newTestPipeline(t, mock)

	_, err := pipeline.Ask(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding failed")
}

func TestRelatedContext(t *testing.T) {
	assert.Empty(t, relatedContext(noRelevantInformation))
	assert.Equal(t, "real context", relatedContext("real context"))
}
