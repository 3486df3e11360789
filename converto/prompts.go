package converto

import (
	"fmt"
	"strings"
)

// systemMessage instructs the completion model to answer strictly from the
// provided context.
const systemMessage = "You are Converto — an AI marketing strategist trained " +
	"on expert insights from CXL's world-class marketing courses. Your job is " +
	"to provide actionable, strategic advice based strictly on the provided " +
	"context, which includes teachings from top industry professionals. If " +
	"the answer cannot be found in the context, respond with: \"I don't have " +
	"enough information to answer that based on the provided knowledge base.\""

// lessonSummaryPrompt is the query used by /summary to summarize a full
// lesson transcript.
const lessonSummaryPrompt = "Please provide a concise summary of the " +
	"following lesson content. Try to make it as readable as possible. Add " +
	"bulletpoints if it makes sense. Do try to focus on actionable details. " +
	"Also include mentioned numbers, metrics, steps, cost, price, revenue, " +
	"tools, guides etc."

// noRelevantInformation is returned in place of a generated answer when the
// knowledge base has nothing useful for a query.
const noRelevantInformation = "No relevant information found in the knowledge base."

func userMessage(contextText string, query string) string {
	return fmt.Sprintf("%s\n\nQuestion: %s\n\nAnswer:", contextText, query)
}

// formatContext renders search results as the context block handed to the
// completion model, or the no-relevant-information sentinel when the search
// came back empty.
func formatContext(results []SearchResult) string {
	if len(results) == 0 {
		return noRelevantInformation
	}

	var b strings.Builder
	b.WriteString("Using the following document excerpts as context:\n---\n")
	for i, result := range results {
		fmt.Fprintf(
			&b,
			"Source %d (Course: %s, Title: %s):\n%s\n---\n",
			i+1,
			result.Chunk.Course,
			result.Chunk.Title,
			result.Chunk.Content,
		)
	}
	return b.String()
}
