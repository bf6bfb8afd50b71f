package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nimbuscrm/nimbus/internal/domain"
	"github.com/nimbuscrm/nimbus/internal/domain/user"
	"github.com/nimbuscrm/nimbus/internal/port/database"
)

// ErrInvalidCredentials covers both unknown email and wrong password so the
// response does not reveal which one failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService verifies credentials against one tenant's user table and
// feeds the login guard: lockout check before any relational access,
// failure accounting on bad credentials, counter reset on success.
type AuthService struct {
	guard *LoginGuard
}

// NewAuthService creates an AuthService.
func NewAuthService(guard *LoginGuard) *AuthService {
	return &AuthService{guard: guard}
}

// Login authenticates one attempt. users must be bound to the request's
// tenant namespace; clientAddr is the best-effort client address used in
// the guard identity.
func (s *AuthService) Login(ctx context.Context, users database.UserStore, req user.LoginRequest, clientAddr string) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	identity := LoginIdentity(req.Email, clientAddr)

	if err := s.guard.CheckBeforeLogin(ctx, identity); err != nil {
		return nil, err
	}

	u, err := users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.guard.RegisterFailure(ctx, identity)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !u.Enabled {
		s.guard.RegisterFailure(ctx, identity)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.guard.RegisterFailure(ctx, identity)
		return nil, ErrInvalidCredentials
	}

	s.guard.ResetFailures(ctx, identity)
	return u, nil
}

// HashPassword produces a bcrypt hash for user provisioning paths.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
