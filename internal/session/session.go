// Package session resolves opaque session keys to principals. The lookup
// backend is external to the stream core; this package only defines the
// contract plus the two shipped resolvers.
package session

import (
	"context"

	"github.com/nodemesh/streamgate/internal/authority"
)

// Resolver turns a session key (usually a cookie value) into a principal.
// A missing or invalid session resolves to (nil, nil): an anonymous guest,
// not an error. Errors are reserved for backend failures.
type Resolver interface {
	Resolve(ctx context.Context, sessionKey string) (*authority.Principal, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, sessionKey string) (*authority.Principal, error)

func (f ResolverFunc) Resolve(ctx context.Context, sessionKey string) (*authority.Principal, error) {
	return f(ctx, sessionKey)
}

// Static is a fixed-table resolver for tests and development.
type Static struct {
	Sessions map[string]authority.Principal
}

func (s *Static) Resolve(ctx context.Context, sessionKey string) (*authority.Principal, error) {
	if p, ok := s.Sessions[sessionKey]; ok {
		principal := p
		return &principal, nil
	}
	return nil, nil
}
