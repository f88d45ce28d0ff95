// Package fsutil provides the filesystem primitives adapters need when
// operating inside a session workspace: atomic writes, sandboxed path
// resolution, and artifact-producing writes with integrity metadata.
package fsutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ndls21/orchcore/internal/contract"
)

// AtomicWrite writes data to a file atomically: write to a sibling temp file,
// fsync it, rename over the target, then fsync the directory. Partial writes
// are never visible and concurrent writers never corrupt the target.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("fsutil: create directory: %w", err)
	}

	tmpPath, err := generateTempPath(path)
	if err != nil {
		return fmt.Errorf("fsutil: generate temp path: %w", err)
	}

	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("fsutil: create temp file: %w", err)
	}

	success := false
	defer func() {
		tmpFile.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("fsutil: write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("fsutil: sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("fsutil: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("fsutil: rename temp file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("fsutil: sync directory: %w", err)
	}

	success = true
	return nil
}

// AtomicWriteJSON writes v as indented, newline-terminated JSON, atomically.
func AtomicWriteJSON(path string, v interface{}) error {
	if v == nil {
		return fmt.Errorf("fsutil: cannot write nil value")
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsutil: marshal JSON: %w", err)
	}
	data = append(data, '\n')

	return AtomicWrite(path, data)
}

func generateTempPath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	pid := os.Getpid()

	randBytes := make([]byte, 4)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("fsutil: generate random suffix: %w", err)
	}
	randSuffix := hex.EncodeToString(randBytes)

	tmpName := fmt.Sprintf(".%s.tmp.%d.%s", base, pid, randSuffix)
	return filepath.Join(dir, tmpName), nil
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fsutil: open directory: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsutil: sync directory: %w", err)
	}
	return nil
}

// ResolveWorkspacePath validates and resolves a relative path within
// workspace, rejecting absolute paths, traversal attempts, and symlinks that
// escape the workspace root.
func ResolveWorkspacePath(workspace, relative string) (string, error) {
	rootAbs, err := filepath.EvalSymlinks(filepath.Clean(workspace))
	if err != nil {
		return "", fmt.Errorf("fsutil: resolve workspace: %w", err)
	}

	if filepath.IsAbs(relative) {
		return "", fmt.Errorf("fsutil: absolute paths not allowed: %s", relative)
	}

	joined := filepath.Join(rootAbs, relative)
	cleanPath := filepath.Clean(joined)

	relPath, err := filepath.Rel(rootAbs, cleanPath)
	if err != nil {
		return "", fmt.Errorf("fsutil: compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("fsutil: path escapes workspace: %s", relative)
	}

	if _, err := os.Stat(cleanPath); err == nil {
		resolved, err := filepath.EvalSymlinks(cleanPath)
		if err != nil {
			return "", fmt.Errorf("fsutil: resolve symlinks: %w", err)
		}
		resolvedRel, err := filepath.Rel(rootAbs, resolved)
		if err != nil || strings.HasPrefix(resolvedRel, "..") {
			return "", fmt.Errorf("fsutil: symlink escapes workspace: %s", relative)
		}
		return resolved, nil
	}

	return cleanPath, nil
}

// ReadFileSafe reads a workspace-relative file with a size ceiling.
func ReadFileSafe(workspace, relativePath string, maxBytes int64) ([]byte, error) {
	fullPath, err := ResolveWorkspacePath(workspace, relativePath)
	if err != nil {
		return nil, fmt.Errorf("fsutil: invalid file path: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("fsutil: open file: %w", err)
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes)
	content, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("fsutil: read file: %w", err)
	}
	return content, nil
}

// WriteResult is the integrity metadata produced by WriteArtifactAtomic: the
// detail a contract.Artifact's PathHint alone doesn't carry.
type WriteResult struct {
	RelativePath string
	SHA256       string
	Size         int64
}

// WriteArtifactAtomic atomically writes content to relativePath inside
// workspace and returns its checksum and size.
func WriteArtifactAtomic(workspace, relativePath string, content []byte) (WriteResult, error) {
	fullPath, err := ResolveWorkspacePath(workspace, relativePath)
	if err != nil {
		return WriteResult{}, fmt.Errorf("fsutil: invalid artifact path: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return WriteResult{}, fmt.Errorf("fsutil: create directory: %w", err)
	}

	tmpFile, err := generateTempPath(fullPath)
	if err != nil {
		return WriteResult{}, fmt.Errorf("fsutil: generate temp path: %w", err)
	}

	if err := os.WriteFile(tmpFile, content, 0600); err != nil {
		return WriteResult{}, fmt.Errorf("fsutil: write temp file: %w", err)
	}

	f, err := os.Open(tmpFile)
	if err != nil {
		os.Remove(tmpFile)
		return WriteResult{}, fmt.Errorf("fsutil: open temp file for sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return WriteResult{}, fmt.Errorf("fsutil: sync temp file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpFile, fullPath); err != nil {
		os.Remove(tmpFile)
		return WriteResult{}, fmt.Errorf("fsutil: rename temp file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return WriteResult{}, fmt.Errorf("fsutil: sync directory: %w", err)
	}

	hash := sha256.Sum256(content)
	return WriteResult{
		RelativePath: relativePath,
		SHA256:       fmt.Sprintf("sha256:%x", hash),
		Size:         int64(len(content)),
	}, nil
}

// ToArtifact builds the contract.Artifact an adapter emits after a
// WriteArtifactAtomic call, addressing the blob by its workspace-relative
// path hint.
func ToArtifact(wr WriteResult, kind contract.ArtifactKind, name string) contract.Artifact {
	return contract.Artifact{
		Kind:     kind,
		Name:     name,
		PathHint: wr.RelativePath,
	}
}
