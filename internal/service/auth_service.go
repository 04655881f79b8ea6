package service

import (
	"context"
	"errors"
	"time"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/utils"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// AuthService covers account registration and login.
type AuthService struct {
	users     repository.UserRepository
	jwtSecret string
	jwtTTL    time.Duration
}

func NewAuthService(users repository.UserRepository, jwtSecret string, jwtTTL time.Duration) *AuthService {
	return &AuthService{users: users, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

func (s *AuthService) Register(ctx context.Context, req dto.RegisterReq) (uint, error) {
	if s.users.IsUsernameExist(ctx, req.Username) {
		return 0, ErrUsernameTaken
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return 0, err
	}

	user := &model.User{
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		Role:         "user",
	}
	if err := s.users.Create(ctx, user); err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (s *AuthService) Login(ctx context.Context, req dto.LoginReq) (*dto.LoginResp, error) {
	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateToken(s.jwtSecret, user.ID, user.Username, user.Role, s.jwtTTL)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResp{
		Token:    token,
		Username: user.Username,
		UserID:   user.ID,
	}, nil
}
