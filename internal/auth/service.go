package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
}

// AccountRepository persists credentials.
type AccountRepository interface {
	// CreateAccount returns ErrEmailInUse when the email is taken.
	CreateAccount(ctx context.Context, acc Account) error
	// FindByEmail returns ErrAccountNotFound when no account matches.
	FindByEmail(ctx context.Context, email string) (*Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

// Service owns account credentials. It is shared by every session's Client.
type Service struct {
	repo AccountRepository
	cost int
}

func NewService(repo AccountRepository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates an account. It does not sign anybody in.
func (s *Service) Register(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", ErrUnknown, err)
	}

	acc := Account{ID: uuid.New(), Email: email, PasswordHash: string(hash)}
	if err := s.repo.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("%w: create account: %w", ErrUnknown, err)
	}

	return &Identity{ID: acc.ID, Email: acc.Email}, nil
}

// Authenticate checks credentials. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	acc, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: load account: %w", ErrUnknown, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: verify password: %w", ErrUnknown, err)
	}

	return &Identity{ID: acc.ID, Email: acc.Email}, nil
}

// Unregister removes an account whose profile could not be written.
func (s *Service) Unregister(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteAccount(ctx, id)
}
