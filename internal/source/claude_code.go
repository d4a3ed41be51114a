package source

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/echovault-sync/echovault/internal/vault"
)

// ClaudeCodeAdapter reads Claude Code CLI transcripts stored as JSONL files
// under "~/.claude/projects/<path-encoded-dir>/*.jsonl" (grounded on
// original_source/apps/core/src/extractors/claude_code.rs).
type ClaudeCodeAdapter struct{}

// NewClaudeCodeAdapter constructs the claude-code adapter.
func NewClaudeCodeAdapter() *ClaudeCodeAdapter {
	return &ClaudeCodeAdapter{}
}

func (a *ClaudeCodeAdapter) SourceName() string { return "claude-code" }

func (a *ClaudeCodeAdapter) FindStorageLocations() ([]string, error) {
	var locations []string
	for _, home := range candidateHomeDirs() {
		projectsDir := filepath.Join(home, ".claude", "projects")
		dirs, err := listSubdirs(projectsDir)
		if err != nil {
			continue
		}
		for _, dir := range dirs {
			files, err := listFilesWithExt(dir, ".jsonl")
			if err == nil && len(files) > 0 {
				locations = append(locations, dir)
			}
		}
	}
	return locations, nil
}

func (a *ClaudeCodeAdapter) CountSessions(location string) (int, error) {
	sessions, err := a.ListSessionFiles(location)
	return len(sessions), err
}

func (a *ClaudeCodeAdapter) ListSessionFiles(location string) ([]SessionFile, error) {
	files, err := listFilesWithExt(location, ".jsonl")
	if err != nil {
		return nil, err
	}

	projectName := decodeProjectName(filepath.Base(location))

	var sessions []SessionFile
	for _, path := range files {
		meta, ok := a.extractSessionMetadata(path, projectName)
		if !ok {
			continue
		}
		sessions = append(sessions, SessionFile{SourcePath: path, Metadata: meta})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Metadata.CreatedAt > sessions[j].Metadata.CreatedAt
	})
	return sessions, nil
}

// decodeProjectName reverses Claude Code's path encoding
// ("-Users-bill-My-Project" -> "Project") by taking the last dash-
// separated segment.
func decodeProjectName(encoded string) string {
	parts := strings.Split(encoded, "-")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return encoded
}

func (a *ClaudeCodeAdapter) extractSessionMetadata(path, projectName string) (SessionMetadata, bool) {
	sessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if sessionID == "" {
		return SessionMetadata{}, false
	}

	info, err := os.Stat(path)
	if err != nil {
		return SessionMetadata{}, false
	}
	if info.Size() < 10 {
		return SessionMetadata{}, false
	}

	f, err := os.Open(path)
	if err != nil {
		return SessionMetadata{}, false
	}
	defer f.Close()

	var title, createdAt string
	lineCount := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() && lineCount < 50 {
		lineCount++
		var obj map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &obj); err != nil {
			continue
		}

		if createdAt == "" {
			if ts, ok := obj["timestamp"].(string); ok {
				createdAt = ts
			} else if ts, ok := obj["createdAt"].(string); ok {
				createdAt = ts
			}
		}

		if title == "" {
			role, _ := obj["role"].(string)
			if role == "human" || role == "user" {
				title = truncateTitle(extractMessageText(obj["content"]))
			}
		}

		if title != "" && createdAt != "" {
			break
		}
	}

	if lineCount == 0 {
		return SessionMetadata{}, false
	}

	if createdAt == "" {
		createdAt = info.ModTime().UTC().Format(time.RFC3339)
	}

	return SessionMetadata{
		ID:            sessionID,
		Source:        a.SourceName(),
		Title:         title,
		WorkspaceName: projectName,
		CreatedAt:     createdAt,
		OriginalPath:  path,
		FileSize:      info.Size(),
		Mtime:         info.ModTime().Unix(),
	}, true
}

func extractMessageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					return text
				}
			}
		}
	}
	return ""
}

func truncateTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return text
}

func (a *ClaudeCodeAdapter) CopyToVault(sf SessionFile, vaultDir string) (string, bool, error) {
	paths := vault.New(vaultDir)
	dest := paths.SessionPath(a.SourceName(), sf.Metadata.ID, "jsonl")

	ok, err := copyIfNewer(sf.SourcePath, dest)
	if err != nil || !ok {
		return "", false, err
	}

	if _, err := vault.CopyFileAtomic(sf.SourcePath, dest); err != nil {
		return "", false, err
	}
	return dest, true, nil
}
