// Package auth defines the interface to the hosted authentication backend.
// The gotrue subpackage provides the production implementation.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned by Session when no user is signed in.
var ErrNoSession = errors.New("auth: no active session")

// User is the authenticated account identity. Metadata carries the profile
// fields supplied at sign-up.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

// Session is an authenticated session with its bearer credential.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
	User         User      `json:"user"`
}

// Event describes a session-state transition delivered to OnChange
// subscribers.
type Event string

const (
	EventSignedIn  Event = "SIGNED_IN"
	EventSignedOut Event = "SIGNED_OUT"
)

// Provider is the authentication backend surface the dashboard consumes.
type Provider interface {
	// SignUp creates an account with profile metadata and returns the
	// resulting session when the backend issues one immediately.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)

	// SignIn authenticates with email and password.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// SignOut revokes the current session.
	SignOut(ctx context.Context) error

	// Session returns the current session or ErrNoSession.
	Session(ctx context.Context) (*Session, error)

	// OnChange registers a callback invoked on every session transition.
	// The returned function removes the subscription.
	OnChange(fn func(Event, *Session)) (unsubscribe func())
}
