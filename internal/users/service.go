// Package users implements console account management: local
// email/password accounts scoped to a tenant, with bcrypt-hashed
// credentials. Identity federation is left to an external IdP in front
// of the API; the platform itself only knows local accounts.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// userRepo is the storage interface consumed by UserService.
// *UserRepository satisfies this interface.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*User, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
}

// UserService implements business logic for console accounts.
type UserService struct {
	repo   userRepo
	logger *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepo, logger *zap.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

// Register creates a new account within a tenant.
func (s *UserService) Register(ctx context.Context, tenantID uuid.UUID, email, password, name string, role Role) (*User, error) {
	if email == "" || password == "" {
		return nil, &ErrValidation{Msg: "email and password are required"}
	}
	if len(password) < 8 {
		return nil, &ErrValidation{Msg: "password must be at least 8 characters"}
	}
	if !role.Valid() {
		return nil, &ErrValidation{Msg: fmt.Sprintf("unknown role %q", role)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		TenantID:     tenantID,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate verifies email/password credentials and returns the user
// on success. Unknown emails and wrong passwords produce the same error
// so callers cannot probe for registered addresses.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	return u, nil
}

// Get retrieves a user by ID.
func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByTenant returns all accounts belonging to a tenant.
func (s *UserService) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*User, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// ChangePassword verifies the current password before setting a new one.
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if len(next) < 8 {
		return &ErrValidation{Msg: "password must be at least 8 characters"}
	}

	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return fmt.Errorf("invalid credentials")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.SetPasswordHash(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	s.logger.Info("password changed", zap.String("user_id", userID.String()))
	return nil
}
