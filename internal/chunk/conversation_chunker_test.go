package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echovault-sync/echovault/internal/parsers"
)

func TestChunkText_ShortTextBecomesOneChunk(t *testing.T) {
	cfg := ConversationChunkConfig{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 10}

	chunks := ChunkText("Hello world, this is a test.", cfg)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world, this is a test.", chunks[0].Content)
}

func TestChunkText_EmptyTextProducesNoChunks(t *testing.T) {
	assert.Empty(t, ChunkText("", DefaultConversationChunkConfig()))
}

func TestChunkText_BelowMinChunkSizeProducesNoChunks(t *testing.T) {
	cfg := ConversationChunkConfig{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 50}
	assert.Empty(t, ChunkText("too short", cfg))
}

func TestChunkText_LongTextProducesMultipleNonEmptyChunks(t *testing.T) {
	cfg := ConversationChunkConfig{ChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 10}

	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("This is paragraph number of the text. It has some content.\n\n")
	}

	chunks := ChunkText(b.String(), cfg)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Content)
		assert.GreaterOrEqual(t, len(c.Content), cfg.MinChunkSize)
	}
}

func TestChunkText_IndicesAreSequential(t *testing.T) {
	cfg := ConversationChunkConfig{ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 5}
	text := strings.Repeat("word ", 100)

	chunks := ChunkText(text, cfg)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkText_VietnameseUnicodeStaysOnCharBoundaries(t *testing.T) {
	cfg := ConversationChunkConfig{ChunkSize: 80, ChunkOverlap: 20, MinChunkSize: 10}
	text := "Tổng hợp ý tưởng và phân tích giải pháp.\n\n" +
		"Người dùng muốn tiếp tục cuộc hội thoại.\n\n" +
		"Đây là đoạn văn bản tiếng Việt dài hơn để kiểm tra chunker."

	chunks := ChunkText(text, cfg)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Content)
		assert.True(t, utf8.ValidString(c.Content))
	}
}

func TestChunkText_CJKUnicodeProducesChunks(t *testing.T) {
	cfg := ConversationChunkConfig{ChunkSize: 30, ChunkOverlap: 5, MinChunkSize: 5}
	text := "日本語テキスト。\n\nこれはテストです。\n\n中文文本测试。"

	chunks := ChunkText(text, cfg)

	assert.NotEmpty(t, chunks)
}

func TestFloorCeilCharBoundary_SkipContinuationBytes(t *testing.T) {
	text := "Tờ" // 'T' = 1 byte, 'ờ' = 3 bytes -> 4 bytes total
	require.Equal(t, 4, len(text))

	assert.Equal(t, 0, floorCharBoundary(text, 0))
	assert.Equal(t, 1, floorCharBoundary(text, 1))
	assert.Equal(t, 1, floorCharBoundary(text, 2))
	assert.Equal(t, 1, floorCharBoundary(text, 3))
	assert.Equal(t, 4, floorCharBoundary(text, 4))

	assert.Equal(t, 4, ceilCharBoundary(text, 2))
	assert.Equal(t, 0, ceilCharBoundary(text, 0))
	assert.Equal(t, 1, ceilCharBoundary(text, 1))
}

func TestChunkConversation_RendersTitleAndSkipsSystemInfoRoles(t *testing.T) {
	conv := parsers.Conversation{
		Title: "Fixing the bug",
		Messages: []parsers.Message{
			{Role: parsers.RoleSystem, Content: "you are a helpful assistant"},
			{Role: parsers.RoleUser, Content: "please fix main.rs"},
			{Role: parsers.RoleAssistant, Content: "done, fixed it"},
			{Role: parsers.RoleInfo, Content: "session ended"},
		},
	}

	chunks := ChunkConversation(conv, DefaultConversationChunkConfig())

	require.Len(t, chunks, 1)
	content := chunks[0].Content
	assert.Contains(t, content, "# Fixing the bug")
	assert.Contains(t, content, "[User]: please fix main.rs")
	assert.Contains(t, content, "[Assistant]: done, fixed it")
	assert.NotContains(t, content, "helpful assistant")
	assert.NotContains(t, content, "session ended")
}
