// Package auth defines the authenticated-session contract consumed by key
// management. Authentication itself happens elsewhere; this package only
// answers "who is signed in right now".
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSession is returned when no user is signed in
var ErrNoSession = errors.New("no active session")

// User identifies the signed-in user
type User struct {
	ID    string
	Email string
}

type SessionProvider interface {
	// CurrentUser returns the signed-in user or ErrNoSession
	CurrentUser(ctx context.Context) (*User, error)
}

type userContextKey struct{}

// WithUser returns a copy of ctx carrying the signed-in user
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by WithUser, if any
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok && user != nil
}

// contextSessionProvider reads the user placed on the request context by the HTTP layer
type contextSessionProvider struct{}

// ContextSessionProvider resolves the current user from the context
var ContextSessionProvider SessionProvider = contextSessionProvider{}

func (contextSessionProvider) CurrentUser(ctx context.Context) (*User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, ErrNoSession
	}
	return user, nil
}

// StaticSessionProvider holds a single signed-in user, as used by the CLI
type StaticSessionProvider struct {
	mu   sync.RWMutex
	user *User
}

// NewStaticSessionProvider creates a provider signed in as user (nil means signed out)
func NewStaticSessionProvider(user *User) *StaticSessionProvider {
	return &StaticSessionProvider{user: user}
}

func (p *StaticSessionProvider) CurrentUser(ctx context.Context) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.user == nil {
		return nil, ErrNoSession
	}
	user := *p.user
	return &user, nil
}

// SignIn replaces the signed-in user
func (p *StaticSessionProvider) SignIn(user User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = &user
}

// SignOut ends the session
func (p *StaticSessionProvider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = nil
}
