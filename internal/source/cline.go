package source

import (
	"os"
	"path/filepath"

	"github.com/echovault-sync/echovault/internal/vault"
)

const (
	clineTranscriptFile = "ui_messages.json"
	clineAPILogFile     = "api_conversation_history.json"
)

// ClineAdapter reads Cline/Roo Code VS Code extension tasks: each task
// directory pairs a UI transcript file with an API conversation-history
// log (grounded on original_source/apps/core/src/parsers/cline.rs for the
// on-disk message shape, and spec.md §4.1's multi-file-session edge case:
// concatenate both files' sizes into file_size, copy both in
// copy_to_vault, report success if any file was written).
type ClineAdapter struct{}

// NewClineAdapter constructs the cline adapter.
func NewClineAdapter() *ClineAdapter {
	return &ClineAdapter{}
}

func (a *ClineAdapter) SourceName() string { return "cline" }

func clineGlobalStorageDirs() []string {
	var dirs []string
	for _, cfg := range candidateConfigDirs() {
		for _, editor := range []string{"Code", "Code - Insiders"} {
			dirs = append(dirs,
				filepath.Join(cfg, editor, "User", "globalStorage", "saoudrizwan.claude-dev", "tasks"),
				filepath.Join(cfg, editor, "User", "globalStorage", "rooveterinaryinc.roo-cline", "tasks"),
			)
		}
	}
	return dirs
}

func (a *ClineAdapter) FindStorageLocations() ([]string, error) {
	var locations []string
	for _, dir := range clineGlobalStorageDirs() {
		if dirExists(dir) {
			locations = append(locations, dir)
		}
	}
	return locations, nil
}

func (a *ClineAdapter) CountSessions(location string) (int, error) {
	taskDirs, err := listSubdirs(location)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, dir := range taskDirs {
		if hasClineArtifacts(dir) {
			count++
		}
	}
	return count, nil
}

func hasClineArtifacts(taskDir string) bool {
	_, transcriptErr := os.Stat(filepath.Join(taskDir, clineTranscriptFile))
	_, apiLogErr := os.Stat(filepath.Join(taskDir, clineAPILogFile))
	return transcriptErr == nil || apiLogErr == nil
}

func (a *ClineAdapter) ListSessionFiles(location string) ([]SessionFile, error) {
	taskDirs, err := listSubdirs(location)
	if err != nil {
		return nil, err
	}

	var sessions []SessionFile
	for _, taskDir := range taskDirs {
		meta, ok := a.extractTaskMetadata(taskDir)
		if !ok {
			continue
		}
		sessions = append(sessions, SessionFile{SourcePath: taskDir, Metadata: meta})
	}
	return sessions, nil
}

func (a *ClineAdapter) extractTaskMetadata(taskDir string) (SessionMetadata, bool) {
	taskID := filepath.Base(taskDir)

	var totalSize int64
	var latestMtime int64
	found := false

	for _, name := range []string{clineTranscriptFile, clineAPILogFile} {
		info, err := os.Stat(filepath.Join(taskDir, name))
		if err != nil {
			continue
		}
		found = true
		totalSize += info.Size()
		if mt := info.ModTime().Unix(); mt > latestMtime {
			latestMtime = mt
		}
	}
	if !found {
		return SessionMetadata{}, false
	}

	return SessionMetadata{
		ID:           taskID,
		Source:       a.SourceName(),
		OriginalPath: taskDir,
		FileSize:     totalSize,
		Mtime:        latestMtime,
	}, true
}

// CopyToVault copies whichever of the two paired files exist for this
// task into "<vaultDir>/sessions/cline/<taskID>/", reporting ok=true if
// any file was written.
func (a *ClineAdapter) CopyToVault(sf SessionFile, vaultDir string) (string, bool, error) {
	paths := vault.New(vaultDir)
	destDir := filepath.Join(paths.SessionsDir(a.SourceName()), sf.Metadata.ID)

	wroteAny := false
	for _, name := range []string{clineTranscriptFile, clineAPILogFile} {
		src := filepath.Join(sf.SourcePath, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}

		dst := filepath.Join(destDir, name)
		ok, err := copyIfNewer(src, dst)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		if _, err := vault.CopyFileAtomic(src, dst); err != nil {
			return "", false, err
		}
		wroteAny = true
	}

	if !wroteAny {
		return "", false, nil
	}
	return destDir, true, nil
}
