package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"messenger/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Claims struct {
	UserID uuid.UUID `json:"uid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID uuid.UUID, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != uuid.Nil {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func SaveRefreshToken(db *gorm.DB, userID uuid.UUID, token string, expiresAt time.Time) error {
	rt := models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return db.Create(&rt).Error
}

func ValidateRefreshToken(db *gorm.DB, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := db.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, time.Now().UTC()).First(&rt).Error
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// RevokeRefreshToken 吊销 token，返回是否真的吊销了一条有效记录。
func RevokeRefreshToken(db *gorm.DB, token string) (bool, error) {
	now := time.Now().UTC()
	res := db.Model(&models.RefreshToken{}).Where("token = ? AND revoked_at IS NULL", token).Update("revoked_at", &now)
	return res.RowsAffected > 0, res.Error
}

type ctxKey struct{}

// WithUserID 把调用者身份放入 context，供 GraphQL resolver 读取。
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserIDFrom 取出调用者身份；未认证时返回 false。
func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// BearerToken 从 Authorization 头或 token 查询参数（WebSocket 场景）中取出 token。
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

// Authenticate 解析 token 并确认用户仍然存在（软删除的用户视为不存在）。
func Authenticate(db *gorm.DB, secret, token string) (*models.User, error) {
	claims, err := ParseAccessToken(token, secret)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := db.First(&user, "id = ?", claims.UserID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func AuthMiddleware(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		user, err := Authenticate(db, secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// OptionalAuth 在携带有效 token 时注入身份，否则放行；是否需要登录由各个 resolver 决定。
// 携带了 token 却无效时直接拒绝。
func OptionalAuth(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.Next()
			return
		}
		user, err := Authenticate(db, secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		setUser(c, user)
		c.Next()
	}
}

func setUser(c *gin.Context, user *models.User) {
	c.Set("userID", user.ID)
	c.Set("user", *user)
	c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), user.ID))
}

func GetUserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uuid.UUID); ok2 {
			return id
		}
	}
	return uuid.Nil
}
