package converto

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"gorm.io/gorm"
)

// SearchResult is one knowledge-base chunk scored against a query embedding.
type SearchResult struct {
	Chunk KBChunk
	Score float64
}

// ChunkStore persists embedded transcript chunks and answers similarity
// searches over them.
//
// Scoring is brute-force cosine similarity over all stored chunks. The
// corpus is course transcripts - thousands of chunks, not millions - so a
// linear scan per query is well inside budget.
type ChunkStore struct {
	db     *database
	logger *slog.Logger
}

func newChunkStore(db *database, log *slog.Logger) *ChunkStore {
	if log == nil {
		log = slog.Default()
	}
	return &ChunkStore{
		db:     db,
		logger: log.With(loggerNameKey, "chunk_store"),
	}
}

// UpsertPage replaces all stored chunks for the given page and records the
// page itself. The replace-then-insert runs in one transaction so a failed
// index run never leaves a page half-stored.
func (s *ChunkStore) UpsertPage(
	ctx context.Context,
	page KBPage,
	chunks []KBChunk,
) error {
	defer s.db.lock()()
	return s.db.DB().WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			if err := tx.Where(
				"page_id = ?",
				page.PageID,
			).Delete(&KBChunk{}).Error; err != nil {
				return fmt.Errorf("error deleting existing chunks: %w", err)
			}
			if len(chunks) > 0 {
				if err := tx.Create(&chunks).Error; err != nil {
					return fmt.Errorf("error inserting chunks: %w", err)
				}
			}
			page.ChunkCount = len(chunks)
			if err := tx.Save(&page).Error; err != nil {
				return fmt.Errorf("error saving page: %w", err)
			}
			return nil
		},
	)
}

// Search returns up to n chunks most similar to the given query embedding,
// highest score first. Chunks whose embedding has zero magnitude are skipped.
func (s *ChunkStore) Search(
	ctx context.Context,
	embedding Vector,
	n int,
) ([]SearchResult, error) {
	if n <= 0 {
		return nil, nil
	}

	var chunks []KBChunk
	if err := s.db.DB().WithContext(ctx).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("error loading chunks: %w", err)
	}

	results := make([]SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		score, ok := cosineSimilarity(embedding, chunk.Embedding)
		if !ok {
			s.logger.WarnContext(
				ctx,
				"skipping chunk with unusable embedding",
				"chunk_id", chunk.ID,
			)
			continue
		}
		results = append(results, SearchResult{Chunk: chunk, Score: score})
	}

	slices.SortFunc(
		results, func(a, b SearchResult) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			default:
				return strings.Compare(a.Chunk.ID, b.Chunk.ID)
			}
		},
	)

	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Courses returns the distinct course names in the knowledge base, sorted.
func (s *ChunkStore) Courses(ctx context.Context) ([]string, error) {
	var courses []string
	err := s.db.DB().WithContext(ctx).
		Model(&KBPage{}).
		Distinct("course").
		Order("course asc").
		Pluck("course", &courses).Error
	return courses, err
}

// Lessons returns the lesson titles stored for the given course, sorted.
// The course match is case-insensitive.
func (s *ChunkStore) Lessons(ctx context.Context, course string) ([]string, error) {
	var titles []string
	err := s.db.DB().WithContext(ctx).
		Model(&KBPage{}).
		Where("lower(course) = lower(?)", course).
		Order("title asc").
		Pluck("title", &titles).Error
	return titles, err
}

// LessonContent reassembles the full text of a lesson from its stored
// chunks, in chunk order. Returns gorm.ErrRecordNotFound if the lesson
// isn't in the store.
func (s *ChunkStore) LessonContent(
	ctx context.Context,
	course string,
	title string,
) (string, error) {
	var chunks []KBChunk
	err := s.db.DB().WithContext(ctx).
		Where("lower(course) = lower(?) AND title = ?", course, title).
		Order("chunk_index asc").
		Find(&chunks).Error
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", gorm.ErrRecordNotFound
	}

	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = chunk.Content
	}
	return strings.Join(parts, "\n"), nil
}

// Count returns the number of stored chunks.
func (s *ChunkStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.DB().WithContext(ctx).Model(&KBChunk{}).Count(&count).Error
	return count, err
}

// Peek returns up to limit chunks for inspection, without their embeddings.
func (s *ChunkStore) Peek(ctx context.Context, limit int) ([]KBChunk, error) {
	var chunks []KBChunk
	err := s.db.DB().WithContext(ctx).
		Omit("embedding").
		Order("id asc").
		Limit(limit).
		Find(&chunks).Error
	return chunks, err
}

// cosineSimilarity returns the cosine of the angle between a and b. The
// second return value is false when the vectors differ in length or either
// has zero magnitude.
func cosineSimilarity(a Vector, b Vector) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
