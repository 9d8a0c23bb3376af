// Package auth содержит логику регистрации и авторизации пользователей.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/inovexa/billing-gateway/internal/lib/jwt"
	"github.com/inovexa/billing-gateway/internal/lib/password"
	"github.com/inovexa/billing-gateway/internal/models"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
// Для неизвестного пользователя и неверного пароля ошибка одна и та же.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// RegisterUser сохраняет нового пользователя и возвращает его UID.
	RegisterUser(ctx context.Context, user models.User) (string, error)

	// GetUserByUsername возвращает пользователя по имени или ошибку, если не найден.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Service отвечает за регистрацию, авторизацию и валидацию JWT.
type Service struct {
	users    UserRepository
	jwtMaker jwt.Maker
}

// New создает новый экземпляр Service.
func New(users UserRepository, jwtMaker jwt.Maker) *Service {
	return &Service{
		users:    users,
		jwtMaker: jwtMaker,
	}
}

// Register создает нового пользователя с хэшированием пароля и ролью basic.
// Роль меняется только применением платёжного события, регистрация всегда
// начинается с бесплатного уровня.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (string, error) {
	const op = "auth.Register"
	hashed, err := password.GetHash(req.Password)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	user := models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hashed,
		Role:         models.RoleBasic,
	}
	uid, err := s.users.RegisterUser(ctx, user)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return uid, nil
}

// Login проверяет пароль пользователя и генерирует JWT.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (token string, role models.Role, err error) {
	const op = "auth.Login"
	user, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, req.Password); err != nil {
		return "", "", ErrInvalidCredentials
	}
	token, err = s.jwtMaker.GenerateToken(user.Username, string(user.Role), user.UUID)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	return token, user.Role, nil
}

// ValidateToken проверяет JWT и возвращает пользователя из его claims.
func (s *Service) ValidateToken(_ context.Context, token string) (*models.User, error) {
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, err
	}
	return &models.User{
		Username: claims.Username,
		Role:     models.Role(claims.Role),
		UUID:     claims.UserUID,
	}, nil
}
