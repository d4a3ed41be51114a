package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/echovault-sync/echovault/internal/gitignore"
)

// walkSkipMatcher matches directory names that are never worth descending
// into while hunting for nested project markers (spec.md §4.1 "Nested-project
// source") — dependency trees and build output, not candidates for a
// project's own .idea/.vscode state.
func walkSkipMatcher() *gitignore.Matcher {
	m := gitignore.New()
	for _, pattern := range []string{
		"node_modules/", ".git/", "vendor/", "target/", "dist/", "build/", ".venv/",
	} {
		m.AddPattern(pattern)
	}
	return m
}

// candidateHomeDirs returns every plausible home directory for the
// current user: $HOME first, then os.UserHomeDir() as a fallback,
// de-duplicated (spec.md §4.1 "adapters must consult environment
// overrides first, then per-OS standard locations").
func candidateHomeDirs() []string {
	var dirs []string
	seen := make(map[string]bool)

	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	add(os.Getenv("HOME"))
	if home, err := os.UserHomeDir(); err == nil {
		add(home)
	}
	return dirs
}

// candidateConfigDirs returns plausible per-OS config-directory roots:
// $XDG_CONFIG_HOME, then os.UserConfigDir(), matching the config_dir()
// fallback chain the original extractors use for VS Code-family tools.
func candidateConfigDirs() []string {
	var dirs []string
	seen := make(map[string]bool)

	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	add(os.Getenv("XDG_CONFIG_HOME"))
	if cfg, err := os.UserConfigDir(); err == nil {
		add(cfg)
	}
	return dirs
}

// dirExists reports whether path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// listFilesWithExt lists immediate (non-recursive) files under dir whose
// extension matches ext (e.g. ".jsonl"), tolerating a missing dir.
func listFilesWithExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

// listSubdirs lists immediate subdirectories of dir, tolerating a missing dir.
func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(dir, entry.Name()))
		}
	}
	return dirs, nil
}

// walkBoundedDepth recursively finds directories matching stopAt (e.g. a
// marker directory name like ".idea") under root, never recursing past
// maxDepth levels (spec.md §4.1 "Nested-project source: discovery recurses
// to a bounded depth (≤ 2) from a fixed set of candidate roots").
func walkBoundedDepth(root string, maxDepth int, stopAt func(name string) bool) []string {
	skip := walkSkipMatcher()

	var matches []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if stopAt(entry.Name()) {
				matches = append(matches, filepath.Join(dir, entry.Name()))
				continue
			}
			if skip.Match(entry.Name(), true) {
				continue
			}
			walk(filepath.Join(dir, entry.Name()), depth+1)
		}
	}
	walk(root, 0)
	return matches
}

// copyIfNewer implements the common "incremental, idempotent" copy rule
// from spec.md §4.1 "copy_to_vault": skip when dest exists, is the same
// size, and is at least as fresh as src.
func copyIfNewer(src, dst string) (ok bool, err error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}

	if dstInfo, err := os.Stat(dst); err == nil {
		sameSize := dstInfo.Size() == srcInfo.Size()
		destFresh := !dstInfo.ModTime().Before(srcInfo.ModTime())
		if sameSize && destFresh {
			return false, nil
		}
	}

	return true, nil
}
