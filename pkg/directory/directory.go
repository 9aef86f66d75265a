// Package directory resolves member ids to display names. The participant
// directory is an external collaborator; lookups are best-effort and a
// failed or missing resolution renders as an opaque placeholder rather
// than failing the caller.
package directory

import (
	"context"

	"commshub/pkg/ids"
)

// Resolver maps member ids to display names. Implementations may be
// backed by an HTTP directory service, LDAP, or the local store.
type Resolver interface {
	// DisplayNames resolves a batch of member ids. Ids it cannot resolve
	// are simply absent from the result; an error means the whole lookup
	// failed (callers fall back to placeholders either way).
	DisplayNames(ctx context.Context, memberIDs []string) (map[string]string, error)
}

// Placeholder is the label used when a member id cannot be resolved.
func Placeholder(memberID string) string {
	return "member:" + ids.Short(memberID)
}

// Static is a fixed in-memory resolver, used for tests and single-node
// deployments where the roster is loaded from config.
type Static map[string]string

func (s Static) DisplayNames(_ context.Context, memberIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(memberIDs))
	for _, id := range memberIDs {
		if name, ok := s[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// ResolveOrPlaceholder resolves every id, substituting the placeholder for
// misses and for a failed lookup.
func ResolveOrPlaceholder(ctx context.Context, r Resolver, memberIDs []string) map[string]string {
	out := make(map[string]string, len(memberIDs))
	var resolved map[string]string
	if r != nil {
		resolved, _ = r.DisplayNames(ctx, memberIDs)
	}
	for _, id := range memberIDs {
		if name, ok := resolved[id]; ok && name != "" {
			out[id] = name
			continue
		}
		out[id] = Placeholder(id)
	}
	return out
}
