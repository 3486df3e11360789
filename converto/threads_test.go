package converto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadConversationsTracking(t *testing.T) {
	threads := newThreadConversations(5)

	assert.False(t, threads.tracked("thread-1"))

	threads.track("thread-1", "CRO", "Landing Pages", "lesson content")
	require.True(t, threads.tracked("thread-1"))

	course, lesson, content, ok := threads.lesson("thread-1")
	require.True(t, ok)
	assert.Equal(t, "CRO", course)
	assert.Equal(t, "Landing Pages", lesson)
	assert.Equal(t, "lesson content", content)

	threads.forget("thread-1")
	assert.False(t, threads.tracked("thread-1"))
	_, _, _, ok = threads.lesson("thread-1")
	assert.False(t, ok)
}

func TestThreadConversationsHistory(t *testing.T) {
	threads := newThreadConversations(2)
	threads.track("thread-1", "CRO", "Landing Pages", "content")

	assert.Empty(t, threads.historyContext("thread-1"))

	threads.appendHistory("thread-1", threadRoleUser, "first question")
	threads.appendHistory("thread-1", threadRoleAssistant, "first answer")
	threads.appendHistory("thread-1", threadRoleUser, "second question")

	history := threads.historyContext("thread-1")
	assert.Contains(t, history, "Previous conversation:")

	// only the last two exchanges fit the limit
	assert.NotContains(t, history, "first question")
	assert.Contains(t, history, "Assistant: first answer")
	assert.Contains(t, history, "User: second question")
}

func TestThreadConversationsHistoryUntracked(t *testing.T) {
	threads := newThreadConversations(5)

	threads.appendHistory("nope", threadRoleUser, "question")
	assert.Empty(t, threads.historyContext("nope"))
	assert.False(t, threads.tracked("nope"))
}
