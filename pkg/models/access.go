package models

import "strings"

// Access represents the sharing tier applied to a source
type Access string

const (
	// AccessPrivate restricts the source to its owner
	AccessPrivate Access = "private"

	// AccessShared grants access to an explicit set of users
	AccessShared Access = "shared"

	// AccessPublic makes the source visible to everyone
	AccessPublic Access = "public"
)

// Valid reports whether a is one of the defined access tiers
func (a Access) Valid() bool {
	switch a {
	case AccessPrivate, AccessShared, AccessPublic:
		return true
	default:
		return false
	}
}

// ParseUserIDs parses free-form delimited text into a trimmed,
// deduplicated set of user identifiers, preserving first-seen order.
// Commas, semicolons, and any whitespace all act as delimiters; empty
// entries are dropped. Whitespace-only input yields an empty set,
// which is a valid shared-with-nobody state.
func ParseUserIDs(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '\t', ' ':
			return true
		default:
			return false
		}
	})

	ids := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		id := strings.TrimSpace(f)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
