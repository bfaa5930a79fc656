// Package syncer performs the clone-and-index work for a single source.
//
// Implementations fetch the source's files, walk them, and produce an
// index summary with a content hash for change detection. The queue
// worker is the only caller.
package syncer

import (
	"context"
	"fmt"

	"github.com/codelens/sourcereg/pkg/models"
)

// Result summarizes one completed sync of a source
type Result struct {
	// FileCount is the number of files indexed
	FileCount int

	// Hash is the SHA-256 hash over the indexed file contents, used for change detection
	Hash string
}

// Syncer fetches and indexes a single source
type Syncer interface {
	// Sync fetches the source's files and indexes them
	Sync(ctx context.Context, src *models.Source) (*Result, error)
}

// Factory creates the syncer matching a source's origin type
type Factory interface {
	// SyncerFor returns the syncer for the given origin
	SyncerFor(origin *models.Origin) (Syncer, error)
}

// defaultFactory dispatches on the closed set of origin types
type defaultFactory struct {
	git   Syncer
	local Syncer
}

// NewFactory creates a factory wired with the default git and local syncers
func NewFactory(opts ...FactoryOption) Factory {
	f := &defaultFactory{
		git:   NewGitSyncer(),
		local: NewLocalSyncer(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FactoryOption configures the factory
type FactoryOption func(*defaultFactory)

// WithGitSyncer overrides the git syncer, mainly for tests
func WithGitSyncer(s Syncer) FactoryOption {
	return func(f *defaultFactory) {
		f.git = s
	}
}

// WithLocalSyncer overrides the local syncer, mainly for tests
func WithLocalSyncer(s Syncer) FactoryOption {
	return func(f *defaultFactory) {
		f.local = s
	}
}

// SyncerFor returns the syncer for the given origin
func (f *defaultFactory) SyncerFor(origin *models.Origin) (Syncer, error) {
	switch origin.Type {
	case models.OriginTypeGitHub:
		return f.git, nil
	case models.OriginTypeLocal:
		return f.local, nil
	default:
		return nil, fmt.Errorf("unsupported origin type: %q", origin.Type)
	}
}
