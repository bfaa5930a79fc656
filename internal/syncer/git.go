package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/codelens/sourcereg/pkg/models"
)

const (
	// maxCloneAttempts bounds retries of transient clone failures
	maxCloneAttempts = 3

	// cloneRetryInitialInterval is the first backoff delay after a failed clone
	cloneRetryInitialInterval = 2 * time.Second

	// maxIndexedFiles caps how many repository files a single sync will index
	maxIndexedFiles = 10 * 1000

	// maxIndexedBytes caps the total content size a single sync will index
	maxIndexedBytes = 100 * 1024 * 1024
)

// CredentialResolver turns a source's credential reference into git
// HTTP basic-auth credentials. Returning an empty token means
// anonymous access.
type CredentialResolver func(credentialRef string) (username, token string)

// envCredentialResolver reads the token from the environment variable
// named by the credential reference.
func envCredentialResolver(credentialRef string) (string, string) {
	if credentialRef == "" {
		return "", ""
	}
	return "git", os.Getenv(credentialRef)
}

// gitSyncer clones a GitHub repository into memory and indexes its HEAD tree
type gitSyncer struct {
	resolveCredential CredentialResolver
}

// GitOption configures the git syncer
type GitOption func(*gitSyncer)

// WithCredentialResolver overrides how credential references are resolved
func WithCredentialResolver(r CredentialResolver) GitOption {
	return func(s *gitSyncer) {
		s.resolveCredential = r
	}
}

// NewGitSyncer creates a syncer for GitHub-backed origins
func NewGitSyncer(opts ...GitOption) Syncer {
	s := &gitSyncer{
		resolveCredential: envCredentialResolver,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync clones the repository shallowly and indexes the checked-out tree
func (s *gitSyncer) Sync(ctx context.Context, src *models.Source) (*Result, error) {
	if src.Origin.GitHub == nil {
		return nil, fmt.Errorf("source %s has no github origin", src.ID)
	}
	origin := src.Origin.GitHub

	cloneOptions := &git.CloneOptions{
		URL:   cloneURL(origin.Repository),
		Depth: 1,
	}
	if origin.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(origin.Branch)
		cloneOptions.SingleBranch = true
	}
	if username, token := s.resolveCredential(origin.CredentialRef); token != "" {
		cloneOptions.Auth = &githttp.BasicAuth{
			Username: username,
			Password: token,
		}
	}

	repo, err := s.cloneWithRetry(ctx, cloneOptions)
	if err != nil {
		return nil, err
	}

	return indexHead(repo)
}

// cloneWithRetry clones into in-memory filesystems, retrying transient
// failures with exponential backoff. Context cancellation aborts the
// retry loop.
func (s *gitSyncer) cloneWithRetry(ctx context.Context, cloneOptions *git.CloneOptions) (*git.Repository, error) {
	attempt := 0
	operation := func() (*git.Repository, error) {
		attempt++
		storer := filesystem.NewStorage(memfs.New(), cache.NewObjectLRUDefault())
		repo, err := git.CloneContext(ctx, storer, memfs.New(), cloneOptions)
		if err != nil {
			slog.Warn("Clone attempt failed",
				"url", cloneOptions.URL,
				"attempt", attempt,
				"error", err)
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return repo, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cloneRetryInitialInterval

	repo, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxCloneAttempts))
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}
	return repo, nil
}

// indexHead walks the HEAD commit tree, counting files and computing a
// content hash for change detection.
func indexHead(repo *git.Repository) (*Result, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load commit tree: %w", err)
	}

	type entry struct {
		path string
		blob plumbing.Hash
	}
	var entries []entry
	err = tree.Files().ForEach(func(f *object.File) error {
		entries = append(entries, entry{path: f.Name, blob: f.Hash})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk commit tree: %w", err)
	}
	if len(entries) > maxIndexedFiles {
		return nil, fmt.Errorf("repository has %d files, exceeding the limit of %d", len(entries), maxIndexedFiles)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	hasher := sha256.New()
	var totalBytes int64
	for _, e := range entries {
		blob, err := repo.BlobObject(e.blob)
		if err != nil {
			return nil, fmt.Errorf("failed to load blob for %s: %w", e.path, err)
		}
		totalBytes += blob.Size
		if totalBytes > maxIndexedBytes {
			return nil, fmt.Errorf("repository content exceeds the limit of %d bytes", maxIndexedBytes)
		}

		reader, err := blob.Reader()
		if err != nil {
			return nil, fmt.Errorf("failed to read blob for %s: %w", e.path, err)
		}
		_, _ = hasher.Write([]byte(e.path))
		_, _ = hasher.Write([]byte{0})
		if _, err := io.Copy(hasher, reader); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("failed to hash %s: %w", e.path, err)
		}
		_ = reader.Close()
	}

	return &Result{
		FileCount: len(entries),
		Hash:      hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// cloneURL expands an owner/name shorthand into a full GitHub clone URL.
// Full URLs and SSH-style addresses pass through unchanged.
func cloneURL(repository string) string {
	if strings.Contains(repository, "://") || strings.HasPrefix(repository, "git@") {
		return repository
	}
	return "https://github.com/" + repository + ".git"
}
