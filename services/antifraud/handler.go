package antifraud

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

type Handler struct {
	cache ConfigCache
	redis *redis.Client
}

type HandlerParams struct {
	fx.In
	Cache ConfigCache
	Redis *redis.Client `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{cache: p.Cache, redis: p.Redis}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/v1/antifraud/config", h.getConfig)
	r.POST("/v1/antifraud/config/invalidate", h.invalidate)
}

func (h *Handler) getConfig(c *gin.Context) {
	cfg, err := h.cache.Get(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if cfg == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// invalidate drops the local copy and, with redis, every other instance's.
func (h *Handler) invalidate(c *gin.Context) {
	h.cache.Invalidate()
	if h.redis != nil {
		if err := PublishInvalidate(c.Request.Context(), h.redis); err != nil {
			_ = c.Error(err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}
