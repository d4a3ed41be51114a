package chunk

import (
	"strings"

	"github.com/echovault-sync/echovault/internal/parsers"
)

// ConversationChunkConfig configures the byte-safe conversation chunker
// (spec.md §4.5).
type ConversationChunkConfig struct {
	// ChunkSize is the target number of bytes per chunk.
	ChunkSize int
	// ChunkOverlap is the number of overlapping bytes between consecutive
	// chunks; must be less than ChunkSize.
	ChunkOverlap int
	// MinChunkSize discards any chunk shorter than this after trimming.
	MinChunkSize int
}

// DefaultConversationChunkConfig mirrors the original extractor's
// defaults (1000/200/50 bytes).
func DefaultConversationChunkConfig() ConversationChunkConfig {
	return ConversationChunkConfig{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 50}
}

// TextChunk is one byte-indexed, character-boundary-safe slice of
// chunked text.
type TextChunk struct {
	Index       int
	Content     string
	StartOffset int
	EndOffset   int
}

// ChunkConversation renders conv the way spec.md §4.5 specifies —
// "# <title>\n\n" when titled, followed by "[Role]: content\n\n" blocks,
// skipping System and Info messages — then chunks the rendered text.
func ChunkConversation(conv parsers.Conversation, cfg ConversationChunkConfig) []TextChunk {
	return ChunkText(renderConversation(conv), cfg)
}

func renderConversation(conv parsers.Conversation) string {
	var b strings.Builder
	if conv.Title != "" {
		b.WriteString("# ")
		b.WriteString(conv.Title)
		b.WriteString("\n\n")
	}

	for _, msg := range conv.Messages {
		label, ok := roleLabel(msg.Role)
		if !ok {
			continue
		}
		b.WriteString("[")
		b.WriteString(label)
		b.WriteString("]: ")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func roleLabel(role parsers.Role) (string, bool) {
	switch role {
	case parsers.RoleUser:
		return "User", true
	case parsers.RoleAssistant:
		return "Assistant", true
	case parsers.RoleTool:
		return "Tool", true
	default:
		return "", false
	}
}

// ChunkText splits text into overlapping, character-boundary-safe chunks
// targeting cfg.ChunkSize bytes, preferring to split on paragraph, line,
// sentence, then word boundaries (spec.md §4.5 algorithm; grounded on
// original_source/apps/core/src/embedding/chunker.rs's chunk_text).
func ChunkText(text string, cfg ConversationChunkConfig) []TextChunk {
	if len(text) <= cfg.ChunkSize {
		if len(text) >= cfg.MinChunkSize {
			return []TextChunk{{Index: 0, Content: text, StartOffset: 0, EndOffset: len(text)}}
		}
		return nil
	}

	var chunks []TextChunk
	start := 0
	index := 0

	for start < len(text) {
		start = ceilCharBoundary(text, start)
		if start >= len(text) {
			break
		}

		var end int
		if len(text)-start <= cfg.ChunkSize {
			end = len(text)
		} else {
			targetEnd := floorCharBoundary(text, start+cfg.ChunkSize)
			end = findSplitPoint(text, start, targetEnd)
		}

		slice := text[start:end]
		trimmed := strings.TrimSpace(slice)
		if len(trimmed) >= cfg.MinChunkSize {
			chunks = append(chunks, TextChunk{Index: index, Content: trimmed, StartOffset: start, EndOffset: end})
			index++
		}

		if end >= len(text) {
			break
		}

		advance := end - start - cfg.ChunkOverlap
		if cfg.ChunkOverlap >= (end - start) {
			advance = end - start
			if advance < cfg.MinChunkSize {
				advance = cfg.MinChunkSize
			}
		}
		start += advance
	}

	return chunks
}

// findSplitPoint searches the window [max(start, targetEnd-100),
// targetEnd+50] for a separator, preferring paragraph over line over
// sentence over word boundaries; falls back to targetEnd itself.
func findSplitPoint(text string, start, targetEnd int) int {
	targetEnd = floorCharBoundary(text, targetEnd)

	searchStart := start
	if targetEnd > 100 {
		searchStart = targetEnd - 100
	}
	searchStart = floorCharBoundary(text, searchStart)

	searchEnd := targetEnd + 50
	if searchEnd > len(text) {
		searchEnd = len(text)
	}
	searchEnd = floorCharBoundary(text, searchEnd)

	window := text[searchStart:searchEnd]

	if pos := strings.LastIndex(window, "\n\n"); pos >= 0 {
		if split := searchStart + pos + 2; split > start {
			return split
		}
	}
	if pos := strings.LastIndex(window, "\n"); pos >= 0 {
		if split := searchStart + pos + 1; split > start {
			return split
		}
	}
	if pos := strings.LastIndex(window, ". "); pos >= 0 {
		if split := searchStart + pos + 2; split > start {
			return split
		}
	}
	if pos := strings.LastIndex(window, " "); pos >= 0 {
		if split := searchStart + pos + 1; split > start {
			return split
		}
	}

	return floorCharBoundary(text, targetEnd)
}

// floorCharBoundary rounds a byte index down to the nearest UTF-8
// character boundary.
func floorCharBoundary(s string, index int) int {
	if index >= len(s) {
		return len(s)
	}
	if index <= 0 {
		return 0
	}
	i := index
	for i > 0 && isUTF8Continuation(s[i]) {
		i--
	}
	return i
}

// ceilCharBoundary rounds a byte index up to the nearest UTF-8 character
// boundary.
func ceilCharBoundary(s string, index int) int {
	if index >= len(s) {
		return len(s)
	}
	i := index
	for i < len(s) && isUTF8Continuation(s[i]) {
		i++
	}
	return i
}

// isUTF8Continuation reports whether b is a UTF-8 continuation byte
// (10xxxxxx), i.e. not itself a character boundary.
func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
