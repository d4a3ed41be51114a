package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/echovault-sync/echovault/internal/vault"
)

// AntigravityAdapter copies raw Google Antigravity conversation protobufs
// from "~/.gemini/antigravity/conversations/{uuid}.pb" without attempting
// to parse them (grounded on
// original_source/crates/echovault-core/src/extractors/antigravity.rs and
// spec.md §4.1's binary-protobuf-source edge case: the adapter does not
// attempt to parse; session_id is the file stem).
type AntigravityAdapter struct{}

// NewAntigravityAdapter constructs the antigravity adapter.
func NewAntigravityAdapter() *AntigravityAdapter {
	return &AntigravityAdapter{}
}

func (a *AntigravityAdapter) SourceName() string { return "antigravity" }

func (a *AntigravityAdapter) FindStorageLocations() ([]string, error) {
	var locations []string
	for _, home := range candidateHomeDirs() {
		dir := filepath.Join(home, ".gemini", "antigravity", "conversations")
		files, err := listFilesWithExt(dir, ".pb")
		if err == nil && len(files) > 0 {
			locations = append(locations, dir)
		}
	}
	return locations, nil
}

func (a *AntigravityAdapter) CountSessions(location string) (int, error) {
	files, err := listFilesWithExt(location, ".pb")
	return len(files), err
}

func (a *AntigravityAdapter) ListSessionFiles(location string) ([]SessionFile, error) {
	files, err := listFilesWithExt(location, ".pb")
	if err != nil {
		return nil, err
	}

	var sessions []SessionFile
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		sessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		sessions = append(sessions, SessionFile{
			SourcePath: path,
			Metadata: SessionMetadata{
				ID:           sessionID,
				Source:       a.SourceName(),
				Title:        "Chat Conversation",
				OriginalPath: path,
				FileSize:     info.Size(),
				Mtime:        info.ModTime().Unix(),
			},
		})
	}
	return sessions, nil
}

func (a *AntigravityAdapter) CopyToVault(sf SessionFile, vaultDir string) (string, bool, error) {
	paths := vault.New(vaultDir)
	dest := paths.SessionPath(a.SourceName(), sf.Metadata.ID, "pb")

	ok, err := copyIfNewer(sf.SourcePath, dest)
	if err != nil || !ok {
		return "", false, err
	}

	if _, err := vault.CopyFileAtomic(sf.SourcePath, dest); err != nil {
		return "", false, err
	}
	return dest, true, nil
}
