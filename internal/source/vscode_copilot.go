package source

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/echovault-sync/echovault/internal/vault"
)

// VSCodeCopilotAdapter reads GitHub Copilot Chat history from VS Code's
// per-workspace "state.vscdb" SQLite database (grounded on
// original_source/src/extractors/vscode_copilot.rs for the
// workspaceStorage discovery layout, and spec.md §4.1's SQLite-backed-
// source edge case: the database file as a whole is the artifact copied
// into the vault, not per-session extraction, and session ids are
// synthesized with a source-specific prefix).
type VSCodeCopilotAdapter struct{}

// NewVSCodeCopilotAdapter constructs the vscode-copilot adapter.
func NewVSCodeCopilotAdapter() *VSCodeCopilotAdapter {
	return &VSCodeCopilotAdapter{}
}

func (a *VSCodeCopilotAdapter) SourceName() string { return "vscode-copilot" }

func vscodeWorkspaceStorageRoots() []string {
	var roots []string
	for _, cfg := range candidateConfigDirs() {
		roots = append(roots, filepath.Join(cfg, "Code", "User", "workspaceStorage"))
		roots = append(roots, filepath.Join(cfg, "Code - Insiders", "User", "workspaceStorage"))
	}
	for _, home := range candidateHomeDirs() {
		roots = append(roots, filepath.Join(home, ".vscode-server", "data", "User", "workspaceStorage"))
	}
	return roots
}

func (a *VSCodeCopilotAdapter) FindStorageLocations() ([]string, error) {
	var locations []string
	for _, root := range vscodeWorkspaceStorageRoots() {
		workspaces, err := listSubdirs(root)
		if err != nil {
			continue
		}
		for _, ws := range workspaces {
			dbPath := filepath.Join(ws, "state.vscdb")
			if _, err := os.Stat(dbPath); err == nil {
				locations = append(locations, ws)
			}
		}
	}
	return locations, nil
}

func (a *VSCodeCopilotAdapter) CountSessions(location string) (int, error) {
	sessions, err := a.ListSessionFiles(location)
	return len(sessions), err
}

// hasChatData opens state.vscdb read-only (no-mutex, read-only flags) and
// checks whether it has any rows in its key-value ItemTable, the signal
// that this workspace has ever stored editor state worth mirroring.
func hasChatData(dbPath string) bool {
	dsn := fmt.Sprintf("file:%s?mode=ro&_mutex=no", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return false
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ItemTable`).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func (a *VSCodeCopilotAdapter) ListSessionFiles(location string) ([]SessionFile, error) {
	dbPath := filepath.Join(location, "state.vscdb")
	info, err := os.Stat(dbPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !hasChatData(dbPath) {
		return nil, nil
	}

	workspaceHash := filepath.Base(location)
	sessionID := a.SourceName() + "-" + workspaceHash

	return []SessionFile{{
		SourcePath: dbPath,
		Metadata: SessionMetadata{
			ID:            sessionID,
			Source:        a.SourceName(),
			WorkspaceName: readWorkspaceFolderName(location),
			OriginalPath:  dbPath,
			FileSize:      info.Size(),
			Mtime:         info.ModTime().Unix(),
		},
	}}, nil
}

func readWorkspaceFolderName(workspaceDir string) string {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "workspace.json"))
	if err != nil {
		return ""
	}
	var doc struct {
		Folder string `json:"folder"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return filepath.Base(doc.Folder)
}

func (a *VSCodeCopilotAdapter) CopyToVault(sf SessionFile, vaultDir string) (string, bool, error) {
	paths := vault.New(vaultDir)
	dest := paths.SessionPath(a.SourceName(), sf.Metadata.ID, "vscdb")

	ok, err := copyIfNewer(sf.SourcePath, dest)
	if err != nil || !ok {
		return "", false, err
	}

	if _, err := vault.CopyFileAtomic(sf.SourcePath, dest); err != nil {
		return "", false, err
	}
	return dest, true, nil
}
