package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-runtime/internal/messaging"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/runtime"
)

// HealthHandler reports dependency health and live session load.
type HealthHandler struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	broker  *messaging.RabbitMQClient
	manager *runtime.Manager
}

// NewHealthHandler creates a new HealthHandler. broker may be nil.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client, broker *messaging.RabbitMQClient, manager *runtime.Manager) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb, broker: broker, manager: manager}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"postgres": "ok", "redis": "ok", "rabbitmq": "disabled"}
	healthy := true

	if err := h.pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}
	if h.broker != nil {
		checks["rabbitmq"] = "ok"
		if !h.broker.Healthy() {
			checks["rabbitmq"] = "connection closed"
			healthy = false
		}
	}

	data := gin.H{
		"status":        "ok",
		"checks":        checks,
		"live_sessions": h.manager.Live(),
	}
	if !healthy {
		data["status"] = "degraded"
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrServiceUnavailable, data)
		return
	}
	response.Success(c, http.StatusOK, data)
}
