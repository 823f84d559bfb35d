package session

import "context"

type contextKey struct {
	name string
}

var managerCtxKey = &contextKey{"session-manager"}

// NewContext returns a copy of ctx carrying the manager
func NewContext(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerCtxKey, m)
}

// FromContext returns the manager stored in ctx, if any
func FromContext(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerCtxKey).(*Manager)
	return m, ok
}
