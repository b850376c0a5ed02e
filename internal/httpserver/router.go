// Package httpserver serves the worker's admin endpoints.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/pkg/logger"
)

// Check reports whether a dependency is ready.
type Check func(ctx context.Context) error

type HistoryReader interface {
	History(ctx context.Context, emailID string) ([]model.ActionRecord, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

type Replayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

// Deps are optional; routes whose dependency is nil are not registered.
type Deps struct {
	Checks   map[string]Check
	History  HistoryReader
	Answerer Answerer
	Replayer Replayer
	Logger   *zap.Logger
}

type Router struct {
	Engine *gin.Engine
	logger *zap.Logger
}

func NewRouter(deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	log := logger.OrNop(deps.Logger)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range deps.Checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "errors": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := r.Group("/admin")
	if deps.History != nil {
		admin.GET("/emails/:id/records", func(c *gin.Context) {
			records, err := deps.History.History(c.Request.Context(), c.Param("id"))
			if err != nil {
				log.Error("Failed to load action records", zap.String("email_id", c.Param("id")), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load records"})
				return
			}
			if len(records) == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "no records for email"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"records": records, "current": records[len(records)-1]})
		})
	}

	if deps.Answerer != nil {
		admin.POST("/query", func(c *gin.Context) {
			var req struct {
				Question string `json:"question" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
				return
			}
			answer, err := deps.Answerer.Answer(c.Request.Context(), req.Question)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"answer": answer, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"answer": answer})
		})
	}

	if deps.Replayer != nil {
		admin.POST("/outbox/replay", func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Query("event_id"), 10, 64)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
				return
			}
			if err := deps.Replayer.ReplayEvent(c.Request.Context(), id); err != nil {
				log.Error("Outbox replay failed", zap.Int64("event_id", id), zap.Error(err))
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"replayed": 1})
		})
		admin.POST("/outbox/replay-failed", func(c *gin.Context) {
			limit := 100
			if v := c.Query("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
					return
				}
				limit = n
			}
			n, err := deps.Replayer.ReplayFailedEvents(c.Request.Context(), limit)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"replayed": n, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"replayed": n})
		})
	}

	return &Router{Engine: r, logger: log}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (r *Router) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("Admin server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
