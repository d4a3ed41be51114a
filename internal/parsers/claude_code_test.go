package parsers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, path string, lines []string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestClaudeCodeParser_CanParse_OnlyJSONL(t *testing.T) {
	p := NewClaudeCodeParser()
	assert.True(t, p.CanParse("/tmp/s1.jsonl"))
	assert.False(t, p.CanParse("/tmp/s1.json"))
}

func TestClaudeCodeParser_Parse_PlainStringContent(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "-Users-bill-demo")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	path := filepath.Join(projectDir, "sess1.jsonl")

	writeJSONL(t, path, []string{
		`{"role":"human","content":"Fix the bug in main.rs","timestamp":"2024-01-15T10:30:00Z"}`,
		`{"role":"assistant","content":"I'll fix that now.","timestamp":"2024-01-15T10:31:00Z"}`,
	})

	p := NewClaudeCodeParser()
	conv, err := p.Parse(path)

	require.NoError(t, err)
	assert.Equal(t, "sess1", conv.ID)
	assert.Equal(t, "claude-code", conv.Source)
	assert.Equal(t, "demo", conv.Workspace)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Fix the bug in main.rs", conv.Messages[0].Content)
	assert.Equal(t, RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Fix the bug in main.rs", conv.Title)
	assert.False(t, conv.CreatedAt.IsZero())
}

func TestClaudeCodeParser_Parse_MultiPartContentWithToolUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess2.jsonl")

	writeJSONL(t, path, []string{
		`{"role":"assistant","content":[{"type":"text","text":"Let me check."},{"type":"tool_use","name":"read_file","input":{"path":"main.rs"}}],"timestamp":"2024-01-15T10:30:00Z"}`,
	})

	p := NewClaudeCodeParser()
	conv, err := p.Parse(path)

	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, RoleAssistant, conv.Messages[0].Role)
	assert.Equal(t, "Let me check.", conv.Messages[0].Content)
	assert.Equal(t, RoleTool, conv.Messages[1].Role)
	assert.Equal(t, "read_file", conv.Messages[1].ToolName)
}

func TestClaudeCodeParser_Parse_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess3.jsonl")

	writeJSONL(t, path, []string{
		`not json at all`,
		`{"role":"human","content":"hello"}`,
		``,
	})

	p := NewClaudeCodeParser()
	conv, err := p.Parse(path)

	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hello", conv.Messages[0].Content)
}

func TestClaudeCodeParser_Parse_TitleTruncatedAt80Runes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess4.jsonl")

	longLine := ""
	for i := 0; i < 100; i++ {
		longLine += "a"
	}
	writeJSONL(t, path, []string{
		`{"role":"user","content":"` + longLine + `"}`,
	})

	p := NewClaudeCodeParser()
	conv, err := p.Parse(path)

	require.NoError(t, err)
	assert.Equal(t, 83, len([]rune(conv.Title))) // 80 chars + "..."
	assert.True(t, len([]rune(conv.Title)) < len([]rune(longLine)))
}

func TestDefaultRegistry_LooksUpClaudeCode(t *testing.T) {
	r := DefaultRegistry()
	p, ok := r.Lookup("claude-code")
	require.True(t, ok)
	assert.Equal(t, "claude-code", p.SourceName())

	_, ok = r.Lookup("unknown-tool")
	assert.False(t, ok)
}
