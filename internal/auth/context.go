// Package auth resolves bearer tokens into the caller's access context.
// Every store query downstream takes its group predicate from here.
package auth

import (
	"context"
	"sort"

	"github.com/meridian/newsgraph/internal/domain"
)

// AccessContext is the resolved caller capability for one request.
// PermittedGroups always includes public for reads; WriteGroup is empty for
// anonymous callers.
type AccessContext struct {
	TokenID         string
	PermittedGroups map[string]bool
	WriteGroup      string
	IsAdmin         bool
	Anonymous       bool
}

// AnonymousContext returns the unauthenticated caller context: public reads only.
func AnonymousContext() *AccessContext {
	return &AccessContext{
		PermittedGroups: map[string]bool{domain.GroupPublic: true},
		Anonymous:       true,
	}
}

// GroupList returns the permitted groups in deterministic order for
// store-side IN clauses.
func (a *AccessContext) GroupList() []string {
	groups := make([]string, 0, len(a.PermittedGroups))
	for g := range a.PermittedGroups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// CanRead reports whether the caller may read the named group
func (a *AccessContext) CanRead(groupID string) bool {
	return a.PermittedGroups[groupID]
}

// CanWrite reports whether the caller may write the named group.
// Writes are only ever permitted to the token's primary group.
func (a *AccessContext) CanWrite(groupID string) bool {
	return a.WriteGroup != "" && a.WriteGroup == groupID
}

// RequireWrite validates a write against a named group. Naming a group
// outside the caller's set is ACCESS_DENIED, never silent filtering.
func (a *AccessContext) RequireWrite(groupID string) error {
	if a.WriteGroup == "" {
		return domain.NewError(domain.ErrAccessDenied, "caller has no write group")
	}
	if groupID != "" && groupID != a.WriteGroup {
		return domain.NewErrorf(domain.ErrAccessDenied, "caller may not write group %q", groupID)
	}
	return nil
}

// RequireRead validates an explicitly named read group
func (a *AccessContext) RequireRead(groupID string) error {
	if !a.CanRead(groupID) {
		return domain.NewErrorf(domain.ErrAccessDenied, "caller may not read group %q", groupID)
	}
	return nil
}

// RequireAdmin gates source/group/token management
func (a *AccessContext) RequireAdmin() error {
	if !a.IsAdmin {
		return domain.NewError(domain.ErrAdminRequired, "admin group required for this operation")
	}
	return nil
}

type contextKey string

const accessContextKey contextKey = "access_context"

// WithAccessContext returns a new context carrying the access context
func WithAccessContext(ctx context.Context, ac *AccessContext) context.Context {
	return context.WithValue(ctx, accessContextKey, ac)
}

// FromContext extracts the access context; falls back to anonymous when the
// middleware did not run (tests, internal jobs).
func FromContext(ctx context.Context) *AccessContext {
	if ac, ok := ctx.Value(accessContextKey).(*AccessContext); ok {
		return ac
	}
	return AnonymousContext()
}
