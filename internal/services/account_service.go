package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"trasferte/internal/auth"
	"trasferte/internal/core"
)

// AccountService handles registration and credential checks. Tokens are
// issued at the HTTP boundary; this service only deals with users.
type AccountService struct {
	users UserStore
}

func NewAccountService(users UserStore) *AccountService {
	return &AccountService{users: users}
}

// Register creates a user with a bcrypt password hash. The role defaults to
// employee when empty.
func (s *AccountService) Register(ctx context.Context, username, password string, role core.Role) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return core.ErrEmptyUsername
	}
	if password == "" {
		return core.ErrEmptyPassword
	}
	if role == "" {
		role = core.RoleEmployee
	}
	if !core.ValidRole(role) {
		return core.ErrInvalidRole
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.CreateUser(ctx, core.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}); err != nil {
		return err
	}

	slog.InfoContext(ctx, "User registered", "username", username, "role", role)
	return nil
}

// Authenticate verifies a username/password pair. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (core.User, error) {
	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		return core.User{}, auth.ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		// Row created by a budget upsert; no credentials were ever set.
		return core.User{}, auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return core.User{}, auth.ErrInvalidCredentials
	}
	return user, nil
}
