package converto

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// QueryDispatcher turns question text into an answer using the knowledge
// base. Errors are surfaced to the controller, which replies with a generic
// failure message - dispatcher error detail never reaches the channel.
type QueryDispatcher interface {
	Ask(ctx context.Context, question string) (string, error)
}

// answerPipeline implements QueryDispatcher as retrieval-augmented
// generation: embed the question, find the most similar stored chunks,
// and hand them to the completion model as context.
type answerPipeline struct {
	openai *OpenAI
	store  *ChunkStore
	config *PipelineConfig
	logger *slog.Logger
}

func newAnswerPipeline(
	oai *OpenAI,
	store *ChunkStore,
	config *PipelineConfig,
	log *slog.Logger,
) *answerPipeline {
	if log == nil {
		log = slog.Default()
	}
	return &answerPipeline{
		openai: oai,
		store:  store,
		config: config,
		logger: log.With(loggerNameKey, "pipeline"),
	}
}

// Ask answers a question from the knowledge base. When the search turns up
// nothing relevant, the no-relevant-information sentinel is returned as the
// answer, without a completion call.
func (p *answerPipeline) Ask(ctx context.Context, question string) (string, error) {
	contextText, err := p.SearchContext(ctx, question)
	if err != nil {
		return "", err
	}
	if contextText == noRelevantInformation {
		return noRelevantInformation, nil
	}
	return p.openai.GenerateAnswer(ctx, question, contextText)
}

// Answer generates an answer for the given query against an explicit
// context block, bypassing retrieval. Used for lesson summaries and thread
// follow-ups, where the caller already assembled the context.
func (p *answerPipeline) Answer(
	ctx context.Context,
	query string,
	contextText string,
) (string, error) {
	return p.openai.GenerateAnswer(ctx, query, contextText)
}

// SearchContext embeds the query, searches the chunk store, and returns the
// formatted context block (or the no-relevant-information sentinel).
func (p *answerPipeline) SearchContext(
	ctx context.Context,
	query string,
) (string, error) {
	embedding, err := p.openai.EmbedText(ctx, query)
	if err != nil {
		return "", fmt.Errorf("error embedding query: %w", err)
	}

	results, err := p.store.Search(ctx, embedding, p.config.SearchResults)
	if err != nil {
		return "", fmt.Errorf("error searching chunks: %w", err)
	}
	p.logger.DebugContext(ctx, "search complete", "results", len(results))

	return formatContext(results), nil
}

// transcriptSource is the part of [Notion] the indexer depends on.
type transcriptSource interface {
	UnindexedTranscripts(ctx context.Context) ([]Transcript, error)
	MarkPageIndexed(ctx context.Context, pageID string) error
}

// embeddingClient is the part of [OpenAI] the indexer depends on.
type embeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([]Vector, error)
}

// Indexer pulls un-indexed transcripts out of Notion, chunks and embeds
// them, and upserts the chunks into the store.
type Indexer struct {
	source transcriptSource
	openai embeddingClient
	store  *ChunkStore
	config *PipelineConfig
	logger *slog.Logger

	// sleep is called between embedding retries. Overridable for tests.
	sleep func(time.Duration)
}

func newIndexer(
	source transcriptSource,
	oai embeddingClient,
	store *ChunkStore,
	config *PipelineConfig,
	log *slog.Logger,
) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		source: source,
		openai: oai,
		store:  store,
		config: config,
		logger: log.With(loggerNameKey, "indexer"),
		sleep:  time.Sleep,
	}
}

// IndexReport summarizes one indexing run.
type IndexReport struct {
	// Pages is the number of pages successfully indexed
	Pages int `json:"pages"`

	// Chunks is the total number of chunks stored
	Chunks int `json:"chunks"`

	// Failed lists page IDs that could not be indexed
	Failed []string `json:"failed,omitempty"`
}

func (r IndexReport) String() string {
	return fmt.Sprintf(
		"indexed %d pages (%d chunks), %d failed",
		r.Pages,
		r.Chunks,
		len(r.Failed),
	)
}

// Sync runs the indexing pipeline once: every un-indexed Notion page is
// chunked, embedded and stored, then marked indexed. A page that fails is
// recorded in the report and skipped; it stays un-indexed in Notion, so the
// next run picks it up again.
func (ix *Indexer) Sync(ctx context.Context) (IndexReport, error) {
	var report IndexReport

	transcripts, err := ix.source.UnindexedTranscripts(ctx)
	if err != nil {
		return report, fmt.Errorf("error extracting transcripts: %w", err)
	}
	ix.logger.InfoContext(ctx, "extracted transcripts", "count", len(transcripts))

	for _, transcript := range transcripts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		stored, err := ix.indexTranscript(ctx, transcript)
		if err != nil {
			ix.logger.ErrorContext(
				ctx,
				"error indexing page",
				"page_id", transcript.PageID,
				"title", transcript.Title,
				tint.Err(err),
			)
			report.Failed = append(report.Failed, transcript.PageID)
			continue
		}
		report.Pages++
		report.Chunks += stored

		// A failure here means the page gets re-indexed next run; the
		// upsert makes that harmless.
		if err = ix.source.MarkPageIndexed(ctx, transcript.PageID); err != nil {
			ix.logger.WarnContext(
				ctx,
				"error marking page indexed",
				"page_id", transcript.PageID,
				tint.Err(err),
			)
		}
	}

	ix.logger.InfoContext(ctx, "sync complete", "report", report.String())
	return report, nil
}

func (ix *Indexer) indexTranscript(
	ctx context.Context,
	transcript Transcript,
) (int, error) {
	texts := chunkTranscript(
		transcript.Content,
		ix.config.ChunkSize,
		ix.config.ChunkOverlap,
	)
	if len(texts) == 0 {
		ix.logger.WarnContext(
			ctx,
			"page has no content, skipping",
			"page_id", transcript.PageID,
		)
		return 0, nil
	}
	ix.logger.InfoContext(
		ctx,
		"processing page",
		"page_id", transcript.PageID,
		"title", transcript.Title,
		"course", transcript.Course,
		"chunks", len(texts),
	)

	embeddings, err := ix.embedBatches(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]KBChunk, len(texts))
	for i, text := range texts {
		chunks[i] = KBChunk{
			ID:         fmt.Sprintf("%s_%d", transcript.PageID, i),
			PageID:     transcript.PageID,
			Title:      transcript.Title,
			Course:     transcript.Course,
			ChunkIndex: i,
			Content:    text,
			Embedding:  embeddings[i],
		}
	}

	page := KBPage{
		PageID:    transcript.PageID,
		Title:     transcript.Title,
		Course:    transcript.Course,
		IndexedAt: time.Now().UTC().UnixMilli(),
	}
	if err = ix.store.UpsertPage(ctx, page, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// embedBatches embeds texts in batches of [PipelineConfig.EmbeddingBatchSize],
// retrying each batch with exponential backoff.
func (ix *Indexer) embedBatches(
	ctx context.Context,
	texts []string,
) ([]Vector, error) {
	batchSize := ix.config.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	embeddings := make([]Vector, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ix.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf(
				"error embedding batch %d: %w",
				start/batchSize+1,
				err,
			)
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

func (ix *Indexer) embedWithRetry(
	ctx context.Context,
	batch []string,
) ([]Vector, error) {
	attempts := ix.config.EmbeddingRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(4<<(attempt-1)) * time.Second
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
			ix.logger.WarnContext(
				ctx,
				"retrying embedding batch",
				"attempt", attempt+1,
				"delay", delay,
				tint.Err(lastErr),
			)
			ix.sleep(delay)
		}
		embeddings, err := ix.openai.EmbedTexts(ctx, batch)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// relatedContext trims the no-relevant-information sentinel so thread
// follow-up prompts don't include a "nothing found" line alongside real
// lesson content.
func relatedContext(contextText string) string {
	if strings.Contains(contextText, noRelevantInformation) {
		return ""
	}
	return contextText
}
