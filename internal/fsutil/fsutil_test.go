package fsutil

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		path string
		data []byte
	}{
		{"write to new file", filepath.Join(tmpDir, "new.txt"), []byte("hello world")},
		{"write empty file", filepath.Join(tmpDir, "empty.txt"), []byte{}},
		{"write to nested directory", filepath.Join(tmpDir, "nested", "deep", "file.txt"), []byte("nested content")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, AtomicWrite(tt.path, tt.data))

			content, err := os.ReadFile(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.data, content)

			info, err := os.Stat(tt.path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestAtomicWriteOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))
	require.NoError(t, AtomicWrite(path, []byte("updated content")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "updated content", string(content))
}

func TestAtomicWriteJSON(t *testing.T) {
	tmpDir := t.TempDir()

	type testStruct struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Items []string `json:"items"`
	}

	path := filepath.Join(tmpDir, "simple.json")
	require.NoError(t, AtomicWriteJSON(path, testStruct{Name: "test", Count: 42, Items: []string{"a", "b"}}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, content)
	assert.Equal(t, byte('\n'), content[len(content)-1])
}

func TestAtomicWriteJSONRejectsNil(t *testing.T) {
	err := AtomicWriteJSON(filepath.Join(t.TempDir(), "nil.json"), nil)
	assert.Error(t, err)
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")

	for i := 0; i < 5; i++ {
		require.NoError(t, AtomicWrite(testFile, []byte("content")))
	}

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "test.txt", entries[0].Name())
}

func TestAtomicWriteConcurrency(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "concurrent.txt")

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() { done <- AtomicWrite(testFile, []byte("concurrent write")) }()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	content, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "concurrent write", string(content))
}

func TestResolveWorkspacePath(t *testing.T) {
	tmpDir := t.TempDir()
	workspace := filepath.Join(tmpDir, "workspace")
	require.NoError(t, os.MkdirAll(workspace, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "test.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "subdir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "subdir", "subfile.txt"), []byte("x"), 0644))

	tests := []struct {
		name     string
		relative string
		wantErr  bool
	}{
		{"valid file in root", "test.txt", false},
		{"valid file in subdirectory", "subdir/subfile.txt", false},
		{"directory traversal", "../test.txt", true},
		{"multiple traversal", "../../../etc/passwd", true},
		{"absolute path", "/etc/passwd", true},
		{"nonexistent file resolves", "nonexistent.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveWorkspacePath(workspace, tt.relative)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadFileSafeEnforcesSizeLimit(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "big.txt"), []byte("0123456789"), 0644))

	content, err := ReadFileSafe(workspace, "big.txt", 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(content))
}

func TestWriteArtifactAtomic(t *testing.T) {
	workspace := t.TempDir()
	content := []byte("test artifact content")
	relativePath := "artifacts/test.txt"

	wr, err := WriteArtifactAtomic(workspace, relativePath, content)
	require.NoError(t, err)
	assert.Equal(t, relativePath, wr.RelativePath)
	assert.Equal(t, int64(len(content)), wr.Size)
	assert.True(t, strings.HasPrefix(wr.SHA256, "sha256:"))

	expectedHash := fmt.Sprintf("sha256:%x", sha256.Sum256(content))
	assert.Equal(t, expectedHash, wr.SHA256)

	fullPath, err := ResolveWorkspacePath(workspace, relativePath)
	require.NoError(t, err)
	readContent, err := os.ReadFile(fullPath)
	require.NoError(t, err)
	assert.Equal(t, content, readContent)
}

func TestWriteArtifactAtomicRejectsPathTraversal(t *testing.T) {
	workspace := t.TempDir()
	_, err := WriteArtifactAtomic(workspace, "../outside.txt", []byte("x"))
	assert.Error(t, err)
}

func TestWriteArtifactAtomicConcurrency(t *testing.T) {
	workspace := t.TempDir()
	content := []byte("concurrent test content")

	done := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := WriteArtifactAtomic(workspace, "concurrent.txt", content)
			done <- err
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-done)
	}
}

func TestToArtifactBuildsContractArtifact(t *testing.T) {
	wr := WriteResult{RelativePath: "diffs/x.patch", SHA256: "sha256:abc", Size: 10}
	a := ToArtifact(wr, contract.ArtifactDiff, "x.patch")
	assert.Equal(t, contract.ArtifactDiff, a.Kind)
	assert.Equal(t, "x.patch", a.Name)
	assert.Equal(t, "diffs/x.patch", a.PathHint)
}
