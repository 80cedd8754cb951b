package service

import (
	"context"
	"errors"
	"strings"

	"diagnosai/backend/internal/models"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/pkg/jwt"
)

var (
	ErrUserAlreadyExists  = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect email or password")
)

// UserService registers accounts and issues access tokens
type UserService struct {
	users  repository.UserRepository
	tokens *jwt.Service
}

// NewUserService creates a new user service
func NewUserService(users repository.UserRepository, tokens *jwt.Service) *UserService {
	return &UserService{users: users, tokens: tokens}
}

// Register creates an account with a bcrypt-hashed password
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	user := &models.User{Email: email, Password: password}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}
	return user, nil
}

// Login checks the credentials and returns a signed access token
func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if !models.CheckPasswordHash(password, user.Password) {
		return "", ErrInvalidCredentials
	}

	return s.tokens.GenerateToken(user.ID, user.Email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
