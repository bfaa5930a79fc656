package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/codelens/sourcereg/pkg/models"
)

// localSyncer indexes a directory on the local filesystem
type localSyncer struct{}

// NewLocalSyncer creates a syncer for local-path origins
func NewLocalSyncer() Syncer {
	return &localSyncer{}
}

// Sync walks the origin directory, counting files and computing a
// content hash for change detection. Hidden directories such as .git
// are skipped.
func (*localSyncer) Sync(ctx context.Context, src *models.Source) (*Result, error) {
	if src.Origin.Local == nil {
		return nil, fmt.Errorf("source %s has no local origin", src.ID)
	}
	root := src.Origin.Local.Path

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path %s is not a directory", root)
	}

	hasher := sha256.New()
	fileCount := 0
	var totalBytes int64

	// filepath.WalkDir visits entries in lexical order, so the hash is
	// deterministic for unchanged content.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if len(name) > 1 && name[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fileCount++
		if fileCount > maxIndexedFiles {
			return fmt.Errorf("directory has more than %d files", maxIndexedFiles)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		_, _ = hasher.Write([]byte(filepath.ToSlash(rel)))
		_, _ = hasher.Write([]byte{0})

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", rel, err)
		}
		n, err := io.Copy(hasher, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		totalBytes += n
		if totalBytes > maxIndexedBytes {
			return fmt.Errorf("directory content exceeds the limit of %d bytes", maxIndexedBytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		FileCount: fileCount,
		Hash:      hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}
