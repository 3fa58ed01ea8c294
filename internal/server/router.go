package server

import (
	"net/http"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/graph"
	"messenger/internal/metrics"
	"messenger/internal/mw"
	"messenger/internal/service"
	"messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/graph-gophers/graphql-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps 是路由所需的全部依赖。
type Deps struct {
	Config  config.Config
	DB      *gorm.DB
	Users   *service.UserService
	Schema  *graphql.Schema
	Hub     *ws.Hub
	Limiter *mw.Limiter
}

// SetupRouter 统一初始化 Gin 中间件、REST 认证接口、GraphQL 以及订阅 WebSocket 端点。
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(d.Config.Env))

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": d.Hub.Count()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(d.Users)
	api := r.Group("/api/v1")
	api.Use(d.Limiter.Middleware())
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)
	api.POST("/auth/logout", h.Logout)

	// 身份由 token 决定，是否必须登录由各个 resolver 判断。
	r.POST("/graphql", auth.OptionalAuth(d.Config.JWTSecret, d.DB), d.Limiter.Middleware(), gin.WrapH(graph.Handler(d.Schema)))

	authn := func(token string) (uuid.UUID, error) {
		u, err := auth.Authenticate(d.DB, d.Config.JWTSecret, token)
		if err != nil {
			return uuid.Nil, err
		}
		return u.ID, nil
	}
	r.GET("/subscriptions", ws.Serve(d.Hub, d.Schema, authn))
	return r
}
