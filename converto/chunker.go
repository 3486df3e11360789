package converto

import "strings"

// chunkTranscript splits a transcript into overlapping chunks of roughly
// `size` words, each chunk sharing its first `overlap` words with the tail
// of the previous one. Overlap keeps sentences that straddle a boundary
// retrievable from both sides.
//
// Word counts stand in for token counts here: for English prose the two
// track closely enough for retrieval chunking.
func chunkTranscript(text string, size int, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	words := strings.Fields(text)
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
