package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrEmailInUse         = errors.New("email already in use")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrUnknown            = errors.New("unexpected auth failure")

	ErrAccountNotFound = errors.New("account not found")
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

// Identity is the bare authenticated user, without any profile data.
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Event is an auth state change. Identity is nil when signed out. Seq grows
// with every change on the same client, so a consumer can tell which of two
// events is newer regardless of delivery order.
type Event struct {
	Seq      uint64
	Identity *Identity
}

type Listener func(ctx context.Context, ev Event)

// Subscription is returned by Subscribe. Unsubscribe may be called any number
// of times.
type Subscription interface {
	Unsubscribe()
}

// Provider is the full auth contract used by the HTTP layer.
type Provider interface {
	Subscribe(ctx context.Context, fn Listener) Subscription
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignUp(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
}
