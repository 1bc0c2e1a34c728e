package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ccms/backend/config"
	"ccms/backend/internal/api/handler"
	"ccms/backend/internal/api/middleware"
	"ccms/backend/internal/service"
	"ccms/backend/pkg/jwt"
	"ccms/backend/pkg/redis"
)

// 上传接口的限流参数：每个讲师每分钟最多 20 次
const (
	uploadRateLimit  = 20
	uploadRateWindow = time.Minute
)

// Setup 初始化并返回 Gin 路由引擎
// rdb 为 nil 时限流与 Token 黑名单均降级关闭；db 仅用于健康检查，可为 nil
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, db *gorm.DB, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// nil *redis.Client 不能直接作为接口传入
	var revoked middleware.RevocationChecker
	if rdb != nil {
		revoked = rdb
	}

	lecturer := middleware.RoleAuth(service.RoleLecturer)
	coordinator := middleware.RoleAuth(service.RoleCoordinator)
	manager := middleware.RoleAuth(service.RoleManager)
	hr := middleware.RoleAuth(service.RoleHR)
	admin := middleware.RoleAuth(service.AdminRoles...)
	uploadLimit := middleware.RateLimit(rdb, uploadRateLimit, uploadRateWindow)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(jwtMgr, revoked, logger))
	{
		// 报销单模块
		claims := authorized.Group("/claims")
		{
			claims.POST("", lecturer, uploadLimit, h.Claim.SubmitClaim)
			claims.GET("/mine", lecturer, h.Claim.ListMyClaims)
			claims.GET("", admin, h.Claim.ListClaims)
			claims.GET("/:id", h.Claim.GetClaim) // 讲师本人或管理角色（Service 层鉴权）
			claims.POST("/:id/documents", lecturer, uploadLimit, h.Claim.AttachDocuments)
			claims.POST("/:id/comments", h.Claim.AddComment)

			claims.POST("/verify-all", coordinator, h.Claim.VerifyAllPending)
			claims.POST("/:id/verify", coordinator, h.Claim.VerifyClaim)
			claims.POST("/:id/coordinator-reject", coordinator, h.Claim.CoordinatorReject)
			claims.POST("/:id/approve", manager, h.Claim.ApproveClaim)
			claims.POST("/:id/manager-reject", manager, h.Claim.ManagerReject)
			claims.POST("/:id/settle", hr, h.Claim.SettleClaim)
		}

		// 文档模块（Service 层按报销单归属鉴权）
		documents := authorized.Group("/documents")
		{
			documents.GET("/:id/download", h.Document.DownloadDocument)
			documents.GET("/:id/view", h.Document.ViewDocument)
		}

		// 报表模块
		reports := authorized.Group("/reports")
		{
			reports.GET("/claims", middleware.RoleAuth(service.RoleHR, service.RoleManager), h.Report.ExportClaims)
		}
	}

	return r
}
