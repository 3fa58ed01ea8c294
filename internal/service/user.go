package service

import (
	"context"
	"time"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(gdb *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: gdb, cfg: cfg}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Register 注册新用户，返回用户 ID 和用户名。
func (s *UserService) Register(ctx context.Context, username, password string) (*RegisterResult, error) {
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "count users")
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrUsernameTaken
		}
		return nil, errors.Wrap(err, "create user")
	}
	return &RegisterResult{ID: user.ID, Username: user.Username}, nil
}

// TokenPair 是签发给客户端的 token 对。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	TokenPair
	User models.User `json:"user"`
}

// Login 校验用户名密码并签发 token 对。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "find user")
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	pair, err := s.issue(s.db.WithContext(ctx), user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, User: user}, nil
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*TokenPair, error) {
	var pair *TokenPair
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		revoked, err := auth.RevokeRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		// 并发刷新时只有一方能成功吊销
		if !revoked {
			return ErrInvalidRefreshToken
		}
		pair, err = s.issue(tx, rec.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout 吊销 refresh token。
func (s *UserService) Logout(ctx context.Context, rt string) error {
	revoked, err := auth.RevokeRefreshToken(s.db.WithContext(ctx), rt)
	if err != nil {
		return errors.Wrap(err, "revoke refresh token")
	}
	if !revoked {
		return ErrInvalidRefreshToken
	}
	return nil
}

// Get 按 ID 查询用户；withDeleted 为 true 时包含已软删除的用户。
func (s *UserService) Get(ctx context.Context, id uuid.UUID, withDeleted bool) (*models.User, error) {
	tx := s.db.WithContext(ctx)
	if withDeleted {
		tx = tx.Unscoped()
	}
	var user models.User
	if err := tx.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "find user")
	}
	return &user, nil
}

func (s *UserService) issue(tx *gorm.DB, userID uuid.UUID) (*TokenPair, error) {
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, errors.Wrap(err, "sign access token")
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, errors.Wrap(err, "generate refresh token")
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(tx, userID, rt, exp); err != nil {
		return nil, errors.Wrap(err, "save refresh token")
	}
	return &TokenPair{AccessToken: at, RefreshToken: rt}, nil
}
