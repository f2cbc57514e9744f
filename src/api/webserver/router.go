package webserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stake-plus/mememo/src/cache"
	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/config"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/grants"
)

// Deps are the engine parts exposed over HTTP.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Grants     grants.Store
	Cache      cache.Store
	Challenges *challenge.Manager
	Limiter    *RateLimiter
}

// DefaultLimiter allows 60 requests a minute per caller.
func DefaultLimiter() *RateLimiter {
	return NewRateLimiter(60, time.Minute, nil)
}

func NewRouter(api config.APIConfig, auth3pSecret string, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if len(api.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     api.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = DefaultLimiter()
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")

	auth3pH := NewAuth3p(deps.Challenges)
	third := v1.Group("/auth3p")
	third.Use(JWTMiddleware([]byte(auth3pSecret), RoleAuth3p), RateLimitMiddleware(limiter))
	{
		third.POST("/respond", auth3pH.Respond)
		third.GET("/challenges", auth3pH.Pending)
		third.GET("/challenges/:id", auth3pH.Get)
	}

	adminH := NewAdmin(deps.Dispatcher, deps.Grants, deps.Cache, deps.Challenges)
	cmdH := NewCommands(deps.Dispatcher)
	admin := v1.Group("")
	admin.Use(JWTMiddleware([]byte(api.AdminSecret), RoleAdmin), RateLimitMiddleware(limiter))
	{
		admin.POST("/commands", cmdH.Run)
		admin.GET("/admin/services", adminH.Services)
		admin.GET("/admin/grants/:principal", adminH.ListGrants)
		admin.POST("/admin/grants", adminH.IssueGrant)
		admin.DELETE("/admin/grants/:principal/:grant", adminH.RevokeGrant)
		admin.POST("/admin/challenges", adminH.BeginChallenge)
		admin.POST("/admin/cache/invalidate", adminH.InvalidateCache)
	}

	return r
}
