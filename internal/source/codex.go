package source

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echovault-sync/echovault/internal/vault"
)

// CodexAdapter reads OpenAI Codex CLI rollout sessions stored as
// line-oriented JSONL files under "~/.codex/sessions/YYYY/MM/DD/*.jsonl",
// one JSON event per line (grounded on
// original_source/apps/core/src/parsers/codex.rs for the on-disk event
// shape; codex has no dedicated extractor in the reference tree, so
// discovery follows the env-var-first-then-home-dir pattern every other
// adapter uses).
type CodexAdapter struct{}

// NewCodexAdapter constructs the codex adapter.
func NewCodexAdapter() *CodexAdapter {
	return &CodexAdapter{}
}

func (a *CodexAdapter) SourceName() string { return "codex" }

func (a *CodexAdapter) FindStorageLocations() ([]string, error) {
	var locations []string
	for _, home := range candidateHomeDirs() {
		root := filepath.Join(home, ".codex", "sessions")
		if !dirExists(root) {
			continue
		}
		// Sessions live three directory levels down: YYYY/MM/DD/*.jsonl.
		// Month and day names are both two characters long, so the walk
		// stops at the month level and the day directories are listed
		// from there.
		monthDirs := walkBoundedDepth(root, 1, func(name string) bool {
			return len(name) == 2 // MM
		})
		var dayDirs []string
		for _, month := range monthDirs {
			days, _ := listSubdirs(month)
			dayDirs = append(dayDirs, days...)
		}
		for _, dir := range dayDirs {
			files, err := listFilesWithExt(dir, ".jsonl")
			if err == nil && len(files) > 0 {
				locations = append(locations, dir)
			}
		}
	}
	return locations, nil
}

func (a *CodexAdapter) CountSessions(location string) (int, error) {
	files, err := listFilesWithExt(location, ".jsonl")
	return len(files), err
}

func (a *CodexAdapter) ListSessionFiles(location string) ([]SessionFile, error) {
	files, err := listFilesWithExt(location, ".jsonl")
	if err != nil {
		return nil, err
	}

	var sessions []SessionFile
	for _, path := range files {
		meta, ok := a.extractSessionMetadata(path)
		if !ok {
			continue
		}
		sessions = append(sessions, SessionFile{SourcePath: path, Metadata: meta})
	}
	return sessions, nil
}

type codexEvent struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexSessionMeta struct {
	ID  string `json:"id"`
	Cwd string `json:"cwd"`
}

func (a *CodexAdapter) extractSessionMetadata(path string) (SessionMetadata, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return SessionMetadata{}, false
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	workspaceName := ""
	createdAt := ""

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		lines := 0
		for scanner.Scan() && lines < 10 {
			lines++
			var ev codexEvent
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				continue
			}
			if createdAt == "" {
				createdAt = ev.Timestamp
			}
			if ev.Type == "session_meta" {
				var meta codexSessionMeta
				if err := json.Unmarshal(ev.Payload, &meta); err == nil {
					if meta.ID != "" {
						sessionID = meta.ID
					}
					if meta.Cwd != "" {
						workspaceName = filepath.Base(meta.Cwd)
					}
				}
				break
			}
		}
	}

	if sessionID == "" {
		return SessionMetadata{}, false
	}
	if createdAt == "" {
		createdAt = info.ModTime().UTC().Format(time.RFC3339)
	}

	return SessionMetadata{
		ID:            sessionID,
		Source:        a.SourceName(),
		WorkspaceName: workspaceName,
		CreatedAt:     createdAt,
		OriginalPath:  path,
		FileSize:      info.Size(),
		Mtime:         info.ModTime().Unix(),
	}, true
}

func (a *CodexAdapter) CopyToVault(sf SessionFile, vaultDir string) (string, bool, error) {
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
