package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
)

// UserService resolves the principal forwarded by the identity provider
type UserService struct {
	store store.Repository
}

// NewUserService creates a new user service
func NewUserService(repo store.Repository) *UserService {
	return &UserService{store: repo}
}

// ResolvePrincipal maps an authenticated email to its user. A missing email or
// one without a user row is unauthenticated.
func (s *UserService) ResolvePrincipal(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrUnauthenticated
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("no user for %s: %w", email, ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve principal: %w", err)
	}
	return user, nil
}

// RequireManager fails with ErrForbidden unless user is a manager
func RequireManager(user *models.User) error {
	if user == nil {
		return ErrUnauthenticated
	}
	if !user.IsManager() {
		return ErrForbidden
	}
	return nil
}
