package server

import (
	"net/http"
	"strings"

	"messenger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合 REST 认证接口，依赖注入 service 层。
type Handler struct {
	users *service.UserService
}

func NewHandler(users *service.UserService) *Handler {
	return &Handler{users: users}
}

type credentials struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// respond 把业务错误映射为状态码；500 记录日志并隐藏细节。
func respond(c *gin.Context, err error, op string) {
	status := service.StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respond(c, err, "register")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.Login(c.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		respond(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  result.AccessToken,
		"refreshToken": result.RefreshToken,
		"user":         gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	pair, err := h.users.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respond(c, err, "refresh")
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout 吊销 refresh token。
func (h *Handler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.users.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respond(c, err, "logout")
		return
	}
	c.Status(http.StatusNoContent)
}
