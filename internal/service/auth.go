package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/rbac"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

const minPasswordLength = 8

// AuthService issues API tokens for stored operators.
type AuthService struct {
	userRepo  *repository.UserRepository
	jwtSecret string
	ttl       time.Duration
}

func NewAuthService(userRepo *repository.UserRepository, jwtSecret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		ttl:       ttl,
	}
}

// CreateUser stores a new operator with a bcrypt hash of password.
func (s *AuthService) CreateUser(ctx context.Context, username, password, role string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &ValidationError{Field: "username", Reason: "must not be empty"}
	}
	if len(password) < minPasswordLength {
		return nil, &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	if !rbac.ValidRole(role) {
		return nil, &ValidationError{Field: "role", Reason: "unknown role " + role}
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks user credentials and returns a JWT.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	u, err := s.userRepo.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !util.CheckPassword(password, u.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(u.ID, u.Username, u.Role, s.jwtSecret, s.ttl)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}
