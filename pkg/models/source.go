// Package models defines the core data types shared by the registry
// store, the sync queue, the HTTP API, and the client.
package models

import (
	"fmt"
	"time"
)

const (
	// OriginTypeGitHub is the origin type for sources hosted in GitHub repositories
	OriginTypeGitHub = "github"

	// OriginTypeLocal is the origin type for sources located on a local filesystem path
	OriginTypeLocal = "local"
)

// Status represents the lifecycle state of a registered source
type Status string

const (
	// StatusConfigured means the source is registered but has never been synced
	StatusConfigured Status = "configured"

	// StatusSyncing means the source currently occupies the running-job slot or a queue slot
	StatusSyncing Status = "syncing"

	// StatusReady means the last sync completed successfully
	StatusReady Status = "ready"

	// StatusError means the last sync failed
	StatusError Status = "error"
)

// Valid reports whether s is one of the defined lifecycle states
func (s Status) Valid() bool {
	switch s {
	case StatusConfigured, StatusSyncing, StatusReady, StatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle state machine permits
// moving from s to next. Syncing only resolves to Ready or Error;
// Ready and Error may re-enter Syncing; nothing returns to Configured.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusConfigured:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusReady || next == StatusError
	case StatusReady, StatusError:
		return next == StatusSyncing
	default:
		return false
	}
}

// GitHubOrigin describes a source backed by a GitHub repository
type GitHubOrigin struct {
	// Repository is the owner/name or full URL of the repository
	Repository string `json:"repository"`

	// Branch is the branch to sync; empty means the remote default
	Branch string `json:"branch,omitempty"`

	// CredentialRef names a stored credential used for private repositories
	CredentialRef string `json:"credential_ref,omitempty"`
}

// LocalOrigin describes a source backed by a local filesystem path
type LocalOrigin struct {
	// Path is the absolute directory path to index
	Path string `json:"path"`
}

// Origin is a closed tagged variant over the supported source kinds.
// Exactly one of GitHub or Local is set, matching Type.
type Origin struct {
	Type   string        `json:"type"`
	GitHub *GitHubOrigin `json:"github,omitempty"`
	Local  *LocalOrigin  `json:"local,omitempty"`
}

// Validate checks that the origin is well-formed: a known type with the
// matching variant populated and the other absent.
func (o *Origin) Validate() error {
	switch o.Type {
	case OriginTypeGitHub:
		if o.GitHub == nil {
			return fmt.Errorf("origin type %q requires github settings", o.Type)
		}
		if o.Local != nil {
			return fmt.Errorf("origin type %q must not carry local settings", o.Type)
		}
		if o.GitHub.Repository == "" {
			return fmt.Errorf("github origin requires a repository")
		}
	case OriginTypeLocal:
		if o.Local == nil {
			return fmt.Errorf("origin type %q requires local settings", o.Type)
		}
		if o.GitHub != nil {
			return fmt.Errorf("origin type %q must not carry github settings", o.Type)
		}
		if o.Local.Path == "" {
			return fmt.Errorf("local origin requires a path")
		}
	default:
		return fmt.Errorf("unsupported origin type: %q", o.Type)
	}
	return nil
}

// DisplayName returns a human-readable identifier for the origin
func (o *Origin) DisplayName() string {
	switch o.Type {
	case OriginTypeGitHub:
		if o.GitHub == nil {
			return ""
		}
		if o.GitHub.Branch != "" {
			return o.GitHub.Repository + "@" + o.GitHub.Branch
		}
		return o.GitHub.Repository
	case OriginTypeLocal:
		if o.Local == nil {
			return ""
		}
		return o.Local.Path
	default:
		return ""
	}
}

// Source is one registered code origin together with its lifecycle state
type Source struct {
	// ID is an opaque unique identifier, immutable after creation
	ID string `json:"id"`

	// Origin identifies where the source's code lives
	Origin Origin `json:"origin"`

	// Status is the current lifecycle state
	Status Status `json:"status"`

	// ErrorMessage carries the last sync failure; set iff Status is error
	ErrorMessage string `json:"error_message,omitempty"`

	// LastSyncedAt is the completion time of the last successful sync; nil means never synced
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// Access is the sharing tier for this source
	Access Access `json:"access"`

	// UserIDs lists the users the source is shared with; meaningful only for AccessShared
	UserIDs []string `json:"user_ids,omitempty"`
}

// Validate checks the source's structural invariants
func (s *Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source requires an id")
	}
	if err := s.Origin.Validate(); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status: %q", s.Status)
	}
	if (s.Status == StatusError) != (s.ErrorMessage != "") {
		return fmt.Errorf("error message must be set exactly when status is %q", StatusError)
	}
	if !s.Access.Valid() {
		return fmt.Errorf("invalid access tier: %q", s.Access)
	}
	return nil
}

// Clone returns a deep copy of the source
func (s *Source) Clone() *Source {
	out := *s
	if s.Origin.GitHub != nil {
		gh := *s.Origin.GitHub
		out.Origin.GitHub = &gh
	}
	if s.Origin.Local != nil {
		loc := *s.Origin.Local
		out.Origin.Local = &loc
	}
	if s.LastSyncedAt != nil {
		ts := *s.LastSyncedAt
		out.LastSyncedAt = &ts
	}
	if s.UserIDs != nil {
		out.UserIDs = append([]string(nil), s.UserIDs...)
	}
	return &out
}
