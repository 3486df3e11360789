package converto

import (
	"fmt"
	"strings"
	"sync"
)

const (
	threadRoleUser      = "User"
	threadRoleAssistant = "Assistant"
)

// threadExchange is one message in a discussion thread's history.
type threadExchange struct {
	role    string
	content string
}

// threadConversation is the state of one /summary discussion thread: which
// lesson it discusses, the full lesson content, and the recent exchanges.
type threadConversation struct {
	course  string
	lesson  string
	content string
	history []threadExchange
}

// threadConversations tracks the discussion threads started by /summary.
// Follow-up messages in a tracked thread are answered with the lesson
// content and recent history as context. State is process-lifetime; an
// archived thread is forgotten.
type threadConversations struct {
	mu           sync.Mutex
	threads      map[string]*threadConversation
	historyLimit int
}

func newThreadConversations(historyLimit int) *threadConversations {
	return &threadConversations{
		threads:      map[string]*threadConversation{},
		historyLimit: historyLimit,
	}
}

// track starts tracking a thread for the given lesson.
func (t *threadConversations) track(
	threadID string,
	course string,
	lesson string,
	content string,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads[threadID] = &threadConversation{
		course:  course,
		lesson:  lesson,
		content: content,
	}
}

// lesson returns the course, lesson and full content for a tracked thread.
func (t *threadConversations) lesson(threadID string) (
	course string,
	lesson string,
	content string,
	ok bool,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv, ok := t.threads[threadID]
	if !ok {
		return "", "", "", false
	}
	return conv.course, conv.lesson, conv.content, true
}

// tracked reports whether the given channel is a tracked discussion thread.
func (t *threadConversations) tracked(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.threads[threadID]
	return ok
}

// appendHistory records one exchange in a tracked thread. A no-op for
// untracked threads.
func (t *threadConversations) appendHistory(
	threadID string,
	role string,
	content string,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv, ok := t.threads[threadID]
	if !ok {
		return
	}
	conv.history = append(conv.history, threadExchange{role: role, content: content})
}

// historyContext renders the last historyLimit exchanges of a thread as a
// context block, or "" when there's no history.
func (t *threadConversations) historyContext(threadID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv, ok := t.threads[threadID]
	if !ok || len(conv.history) == 0 {
		return ""
	}

	history := conv.history
	if t.historyLimit > 0 && len(history) > t.historyLimit {
		history = history[len(history)-t.historyLimit:]
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, exchange := range history {
		fmt.Fprintf(&b, "%s: %s\n", exchange.role, exchange.content)
	}
	return b.String()
}

// forget drops a thread's state. Called when the thread archives.
func (t *threadConversations) forget(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.threads, threadID)
}
