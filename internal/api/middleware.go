package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/ratelimit"
)

// unlimitedPaths skip admission control.
var unlimitedPaths = map[string]bool{
	"/availability": true,
	"/input_schema": true,
	"/docs":         true,
	"/openapi.json": true,
	"/redoc":        true,
}

// RateLimit admits requests through the per-client token bucket.
func RateLimit(limiter *ratelimit.Limiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || unlimitedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !limiter.Allow(ip) {
			log.Warnf(logger.WithClientIP(c.Request.Context(), ip), "[RATE_LIMIT] path=%s", c.Request.URL.Path)
			respondError(c, log, errorx.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithClientIP(c.Request.Context(), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		log.Debugf(ctx, "[HTTP] %s %s status=%d latency=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func writeDetail(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

func (s *Server) writeError(c *gin.Context, err error) {
	respondError(c, s.log, err)
}

// respondError maps service errors to HTTP responses.
func respondError(c *gin.Context, log logger.Logger, err error) {
	var ve *errorx.ValidationError
	switch {
	case errors.As(err, &ve):
		writeDetail(c, http.StatusBadRequest, ve.Message)
	case errors.Is(err, errorx.ErrJobNotFound):
		writeDetail(c, http.StatusNotFound, "Job not found")
	case errors.Is(err, errorx.ErrRateLimited):
		writeDetail(c, http.StatusTooManyRequests, "Rate limit exceeded")
	case errors.Is(err, errorx.ErrUpstream):
		log.Warnf(c.Request.Context(), "[HTTP] upstream failure: %v", err)
		writeDetail(c, http.StatusBadGateway, err.Error())
	default:
		log.Errorf(c.Request.Context(), "[HTTP] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		writeDetail(c, http.StatusInternalServerError, "Internal server error")
	}
}
