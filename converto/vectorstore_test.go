package converto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestChunkStore(t testing.TB) *ChunkStore {
	t.Helper()
	return newChunkStore(newTestDatabase(t), slog.Default())
}

func seedPage(
	t testing.TB,
	store *ChunkStore,
	pageID string,
	course string,
	title string,
	embeddings ...Vector,
) {
	t.Helper()

	chunks := make([]KBChunk, len(embeddings))
	for i, embedding := range embeddings {
		chunks[i] = KBChunk{
			ID:         fmt.Sprintf("%s_%d", pageID, i),
			PageID:     pageID,
			Title:      title,
			Course:     course,
			ChunkIndex: i,
			Content:    fmt.Sprintf("%s part %d", title, i),
			Embedding:  embedding,
		}
	}
	page := KBPage{PageID: pageID, Title: title, Course: course}
	require.NoError(t, store.UpsertPage(context.Background(), page, chunks))
}

func TestChunkStoreSearchOrdering(t *testing.T) {
	store := newTestChunkStore(t)
	ctx := context.Background()

	seedPage(t, store, "page-a", "CRO", "Landing Pages", Vector{1, 0})
	seedPage(t, store, "page-b", "CRO", "Copywriting", Vector{0, 1})
	seedPage(t, store, "page-c", "SEO", "Keywords", Vector{0.9, 0.1})

	results, err := store.Search(ctx, Vector{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "page-a_0", results[0].Chunk.ID)
	assert.Equal(t, "page-c_0", results[1].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestChunkStoreSearchSkipsUnusableEmbeddings(t *testing.T) {
	store := newTestChunkStore(t)
	ctx := context.Background()

	seedPage(t, store, "page-a", "CRO", "Landing Pages", Vector{1, 0})
	seedPage(t, store, "page-z", "CRO", "Zeroes", Vector{0, 0})

	results, err := store.Search(ctx, Vector{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "page-a_0", results[0].Chunk.ID)
}

func TestChunkStoreSearchEmptyStore(t *testing.T) {
	store := newTestChunkStore(t)

	results, err := store.Search(context.Background(), Vector{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunkStoreUpsertReplacesChunks(t *testing.T) {
	store := newTestChunkStore(t)
	ctx := context.Background()

	seedPage(
		t, store, "page-a", "CRO", "Landing Pages",
		Vector{1, 0}, Vector{0, 1},
	)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// re-indexing the same page replaces, never duplicates
	seedPage(t, store, "page-a", "CRO", "Landing Pages", Vector{1, 1})
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestChunkStoreCoursesAndLessons(t *testing.T) {
	store := newTestChunkStore(t)
	ctx := context.Background()

	seedPage(t, store, "page-a", "CRO", "Landing Pages", Vector{1, 0})
	seedPage(t, store, "page-b", "CRO", "Copywriting", Vector{0, 1})
	seedPage(t, store, "page-c", "SEO", "Keywords", Vector{1, 1})

	courses, err := store.Courses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CRO", "SEO"}, courses)

	lessons, err := store.Lessons(ctx, "cro")
	require.NoError(t, err)
	assert.Equal(t, []string{"Copywriting", "Landing Pages"}, lessons)

	lessons, err = store.Lessons(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestChunkStoreLessonContent(t *testing.T) {
	store := newTestChunkStore(t)
	ctx := context.Background()

	seedPage(
		t, store, "page-a", "CRO", "Landing Pages",
		Vector{1, 0}, Vector{0, 1}, Vector{1, 1},
	)

	content, err := store.LessonContent(ctx, "CRO", "Landing Pages")
	require.NoError(t, err)
	assert.Equal(
		t,
		"Landing Pages part 0\nLanding Pages part 1\nLanding Pages part 2",
		content,
	)

	_, err = store.LessonContent(ctx, "CRO", "Nope")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestChunkStorePeekOmitsEmbeddings(t *testing.T) {
	store := newTestChunkStore(t)

	seedPage(t, store, "page-a", "CRO", "Landing Pages", Vector{1, 0})

	chunks, err := store.Peek(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Embedding)
	assert.Equal(t, "Landing Pages part 0", chunks[0].Content)
}

func TestCosineSimilarity(t *testing.T) {
	score, ok := cosineSimilarity(Vector{1, 0}, Vector{1, 0})
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-9)

	score, ok = cosineSimilarity(Vector{1, 0}, Vector{0, 1})
	require.True(t, ok)
	assert.InDelta(t, 0.0, score, 1e-9)

	score, ok = cosineSimilarity(Vector{1, 0}, Vector{-1, 0})
	require.True(t, ok)
	assert.InDelta(t, -1.0, score, 1e-9)

	_, ok = cosineSimilarity(Vector{1, 0}, Vector{1, 0, 0})
	assert.False(t, ok)

	_, ok = cosineSimilarity(Vector{0, 0}, Vector{1, 0})
	assert.False(t, ok)

	_, ok = cosineSimilarity(Vector{}, Vector{})
	assert.False(t, ok)
}
