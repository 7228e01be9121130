package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
)

// SourceInfo describes the checked-out source tree
type SourceInfo struct {
	Commit string
	Branch string
	Dirty  bool
}

// ReadSourceInfo reads HEAD and worktree state of the repository containing dir
func ReadSourceInfo(dir string) (*SourceInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	info := &SourceInfo{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	} else {
		info.Branch = "HEAD"
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}
	info.Dirty = !status.IsClean()
	return info, nil
}

// ReadManifestVersion reads the "version" field of a package manifest
func ReadManifestVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if manifest.Version == "" {
		return "", errors.New("manifest has no version")
	}
	return manifest.Version, nil
}
