package converto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatContext(t *testing.T) {
	results := []SearchResult{
		{
			Chunk: KBChunk{
				Course:  "CRO",
				Title:   "Landing Pages",
				Content: "first excerpt",
			},
			Score: 0.9,
		},
		{
			Chunk: KBChunk{
				Course:  "SEO",
				Title:   "Keywords",
				Content: "second excerpt",
			},
			Score: 0.5,
		},
	}

	contextText := formatContext(results)
	assert.Contains(
		t,
		contextText,
		"Using the following document excerpts as context:",
	)
	assert.Contains(
		t,
		contextText,
		"Source 1 (Course: CRO, Title: Landing Pages):\nfirst excerpt",
	)
	assert.Contains(
		t,
		contextText,
		"Source 2 (Course: SEO, Title: Keywords):\nsecond excerpt",
	)
}

func TestFormatContextEmpty(t *testing.T) {
	assert.Equal(t, noRelevantInformation, formatContext(nil))
	assert.Equal(t, noRelevantInformation, formatContext([]SearchResult{}))
}

func TestUserMessage(t *testing.T) {
	msg := userMessage("the context", "the question")
	assert.Equal(t, "the context\n\nQuestion: the question\n\nAnswer:", msg)
}
