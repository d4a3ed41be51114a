package parsers

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
)

// ClaudeCodeParser parses JSONL conversation files written by Claude
// Code: each line is a JSON object carrying a role and an Anthropic-style
// content field that is either a plain string or a multi-part array of
// {type: text|tool_use|tool_result|image, ...} items (grounded on
// original_source/apps/core/src/parsers/claude_code.rs).
type ClaudeCodeParser struct{}

// NewClaudeCodeParser constructs the claude-code parser.
func NewClaudeCodeParser() *ClaudeCodeParser {
	return &ClaudeCodeParser{}
}

func (p *ClaudeCodeParser) SourceName() string { return "claude-code" }

func (p *ClaudeCodeParser) CanParse(rawPath string) bool {
	return strings.EqualFold(filepath.Ext(rawPath), ".jsonl")
}

type claudeCodeLine struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp"`
	CreatedAt string          `json:"createdAt"`
}

type claudeCodeContentItem struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Content  json.RawMessage `json:"content"`
	ToolUse  string          `json:"tool_use_id"`
	ToolName string          `json:"-"`
}

// Parse reads rawPath line by line, normalizing each line into zero or
// more Messages and recovering a title from the first user message.
func (p *ClaudeCodeParser) Parse(rawPath string) (Conversation, error) {
	f, err := os.Open(rawPath)
	if err != nil {
		return Conversation{}, echoerrors.IOErr("open claude-code jsonl", err)
	}
	defer func() { _ = f.Close() }()

	sessionID := strings.TrimSuffix(filepath.Base(rawPath), filepath.Ext(rawPath))
	workspace := decodeWorkspaceName(filepath.Base(filepath.Dir(rawPath)))

	conv := Conversation{ID: sessionID, Source: p.SourceName(), Workspace: workspace}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw claudeCodeLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if raw.Content == nil {
			continue
		}

		ts := parseTimestamp(raw.Timestamp, raw.CreatedAt)
		if !ts.IsZero() {
			if conv.CreatedAt.IsZero() {
				conv.CreatedAt = ts
			}
			conv.UpdatedAt = ts
		}

		text, toolCalls := extractClaudeCodeContent(raw.Content)
		role := mapClaudeCodeRole(raw.Role)

		if strings.TrimSpace(text) != "" {
			conv.Messages = append(conv.Messages, Message{Role: role, Content: text, Timestamp: ts})
		}
		for _, tc := range toolCalls {
			conv.Messages = append(conv.Messages, Message{
				Role: RoleTool, Content: tc.description, Timestamp: ts, ToolName: tc.name,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return Conversation{}, echoerrors.ParseErr("scan claude-code jsonl", err)
	}

	conv.Title = firstUserTitle(conv.Messages)
	return conv, nil
}

func mapClaudeCodeRole(role string) Role {
	switch role {
	case "human", "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return RoleInfo
	}
}

func decodeWorkspaceName(dirName string) string {
	segments := strings.Split(dirName, "-")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return dirName
}

func parseTimestamp(candidates ...string) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, c); err == nil {
			return ts
		}
	}
	return time.Time{}
}

type toolCall struct {
	name        string
	description string
}

// extractClaudeCodeContent recovers readable text and any tool_use items
// from an Anthropic-style content field, which is either a plain string
// or a multi-part array.
func extractClaudeCodeContent(raw json.RawMessage) (string, []toolCall) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var items []claudeCodeContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", nil
	}

	var textParts []string
	var toolCalls []toolCall
	for _, item := range items {
		switch item.Type {
		case "text", "":
			if item.Text != "" {
				textParts = append(textParts, item.Text)
			}
		case "tool_use":
			name := item.Name
			if name == "" {
				name = "tool"
			}
			toolCalls = append(toolCalls, toolCall{name: name, description: "Called `" + name + "`"})
		case "tool_result":
			if result := extractToolResultText(item.Content); result != "" {
				if len(result) > 500 {
					result = result[:500] + "..."
				}
				textParts = append(textParts, "<details>\n<summary>Tool result</summary>\n\n```\n"+result+"\n```\n</details>")
			}
		case "image":
			textParts = append(textParts, "*[Image content]*")
		default:
			if item.Text != "" {
				textParts = append(textParts, item.Text)
			}
		}
	}
	return strings.Join(textParts, "\n\n"), toolCalls
}

func extractToolResultText(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, part := range parts {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

// firstUserTitle derives a title from the first message with RoleUser,
// truncated to 80 runes (grounded on claude_code.rs's "title from first
// user message" rule).
func firstUserTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		firstLine := m.Content
		if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
			firstLine = firstLine[:idx]
		}
		runes := []rune(firstLine)
		if len(runes) > 80 {
			return string(runes[:80]) + "..."
		}
		return firstLine
	}
	return ""
}
