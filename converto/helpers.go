package converto

import "strings"

// splitMessage splits content into chunks that fit within Discord's message
// length limit, preferring paragraph boundaries. A single paragraph longer
// than the limit is split mid-paragraph.
func splitMessage(content string, maxLength int) []string {
	if len(content) <= maxLength {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, paragraph := range strings.Split(content, "\n") {
		// paragraphs longer than the limit get hard-split, on rune
		// boundaries so a multi-byte character is never torn in half
		for len(paragraph) > maxLength {
			flush()
			runes := []rune(paragraph)
			cut := maxLength
			if cut > len(runes) {
				cut = len(runes)
			}
			chunks = append(chunks, string(runes[:cut]))
			paragraph = string(runes[cut:])
		}

		if current.Len()+len(paragraph)+1 > maxLength {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(paragraph)
	}
	flush()

	return chunks
}
