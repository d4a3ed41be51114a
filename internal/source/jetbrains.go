package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/echovault-sync/echovault/internal/vault"
)

// JetBrainsAdapter discovers per-project "workspace.xml" files nested
// inside arbitrary user project directories that carry an
// AiAssistantConversation (or legacy ChatSessionStateTemp) component
// (grounded on original_source/apps/core/src/parsers/jetbrains.rs for the
// XML component names, and spec.md §4.1's nested-project-source edge
// case: discovery recurses to a bounded depth (<=2) from a fixed set of
// candidate roots).
type JetBrainsAdapter struct{}

// NewJetBrainsAdapter constructs the jetbrains adapter.
func NewJetBrainsAdapter() *JetBrainsAdapter {
	return &JetBrainsAdapter{}
}

func (a *JetBrainsAdapter) SourceName() string { return "jetbrains" }

func jetbrainsCandidateRoots() []string {
	var roots []string
	for _, home := range candidateHomeDirs() {
		roots = append(roots,
			home,
			filepath.Join(home, "IdeaProjects"),
			filepath.Join(home, "Projects"),
			filepath.Join(home, "dev"),
		)
	}
	return roots
}

// FindStorageLocations returns every ".idea" directory found within two
// levels of a candidate project root that contains a workspace.xml.
func (a *JetBrainsAdapter) FindStorageLocations() ([]string, error) {
	var locations []string
	seen := make(map[string]bool)

	for _, root := range jetbrainsCandidateRoots() {
		if !dirExists(root) {
			continue
		}
		for _, ideaDir := range walkBoundedDepth(root, 2, func(name string) bool { return name == ".idea" }) {
			if _, err := os.Stat(filepath.Join(ideaDir, "workspace.xml")); err != nil {
				continue
			}
			if !seen[ideaDir] {
				seen[ideaDir] = true
				locations = append(locations, ideaDir)
			}
		}
	}
	return locations, nil
}

func (a *JetBrainsAdapter) CountSessions(location string) (int, error) {
	sessions, err := a.ListSessionFiles(location)
	return len(sessions), err
}

func (a *JetBrainsAdapter) ListSessionFiles(location string) ([]SessionFile, error) {
	path := filepath.Join(location, "workspace.xml")
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil || !looksLikeAIAssistantWorkspace(content) {
		return nil, nil
	}

	projectName := filepath.Base(filepath.Dir(location))
	sessionID := a.SourceName() + "-" + projectName

	return []SessionFile{{
		SourcePath: path,
		Metadata: SessionMetadata{
			ID:            sessionID,
			Source:        a.SourceName(),
			WorkspaceName: projectName,
			OriginalPath:  path,
			FileSize:      info.Size(),
			Mtime:         info.ModTime().Unix(),
		},
	}}, nil
}

func looksLikeAIAssistantWorkspace(content []byte) bool {
	s := string(content)
	return strings.Contains(s, "AiAssistantConversation") || strings.Contains(s, "ChatSessionStateTemp")
}

func (a *JetBrainsAdapter) CopyToVault(sf SessionFile, vaultDir string) (string, bool, error) {
	paths := vault.New(vaultDir)
	dest := paths.SessionPath(a.SourceName(), sf.Metadata.ID, "xml")

	ok, err := copyIfNewer(sf.SourcePath, dest)
	if err != nil || !ok {
		return "", false, err
	}

	if _, err := vault.CopyFileAtomic(sf.SourcePath, dest); err != nil {
		return "", false, err
	}
	return dest, true, nil
}
