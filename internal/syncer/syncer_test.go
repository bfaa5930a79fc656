package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/sourcereg/pkg/models"
)

func TestFactory_SyncerFor(t *testing.T) {
	t.Parallel()

	f := NewFactory()

	tests := []struct {
		name        string
		origin      models.Origin
		expectError bool
	}{
		{name: "github origin", origin: models.Origin{Type: models.OriginTypeGitHub}},
		{name: "local origin", origin: models.Origin{Type: models.OriginTypeLocal}},
		{name: "unknown origin", origin: models.Origin{Type: "svn"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := f.SyncerFor(&tt.origin)
			if tt.expectError {
				require.Error(t, err)
				assert.Nil(t, s)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, s)
			}
		})
	}
}

func localSource(path string) *models.Source {
	return &models.Source{
		ID:     "src-local",
		Origin: models.Origin{Type: models.OriginTypeLocal, Local: &models.LocalOrigin{Path: path}},
		Status: models.StatusSyncing,
		Access: models.AccessPrivate,
	}
}

func TestLocalSyncer_Sync(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "util.go"), []byte("package pkg\n"), 0600))
	// hidden directories are not indexed
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0600))

	s := NewLocalSyncer()
	result, err := s.Sync(context.Background(), localSource(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, result.FileCount)
	assert.NotEmpty(t, result.Hash)
}

func TestLocalSyncer_Sync_HashIsStable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("beta"), 0600))

	s := NewLocalSyncer()
	first, err := s.Sync(context.Background(), localSource(dir))
	require.NoError(t, err)
	second, err := s.Sync(context.Background(), localSource(dir))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("changed"), 0600))
	third, err := s.Sync(context.Background(), localSource(dir))
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, third.Hash)
	assert.Equal(t, first.FileCount, third.FileCount)
}

func TestLocalSyncer_Sync_MissingPath(t *testing.T) {
	t.Parallel()

	s := NewLocalSyncer()
	_, err := s.Sync(context.Background(), localSource(filepath.Join(t.TempDir(), "nope")))
	require.Error(t, err)
}

func TestLocalSyncer_Sync_FileInsteadOfDirectory(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	s := NewLocalSyncer()
	_, err := s.Sync(context.Background(), localSource(file))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestGitSyncer_CloneURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		repository string
		expected   string
	}{
		{name: "owner name shorthand", repository: "octocat/hello", expected: "https://github.com/octocat/hello.git"},
		{name: "full https url", repository: "https://github.com/octocat/hello.git", expected: "https://github.com/octocat/hello.git"},
		{name: "ssh address", repository: "git@github.com:octocat/hello.git", expected: "git@github.com:octocat/hello.git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, cloneURL(tt.repository))
		})
	}
}

func TestGitSyncer_Sync_MissingOrigin(t *testing.T) {
	t.Parallel()

	s := NewGitSyncer()
	_, err := s.Sync(context.Background(), &models.Source{
		ID:     "src-1",
		Origin: models.Origin{Type: models.OriginTypeGitHub},
	})
	require.Error(t, err)
}
