// File: internal/server/middleware.go
package server

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fetchproxy/internal/fetch"
)

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request served.",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// rateLimit answers requests over the limiter's budget with a failure
// envelope. Like every /fetch outcome the status is 200; Retry-After hints
// when to try again. The limit is global across clients.
func rateLimit(limiter *rate.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				retry := int(math.Ceil(1 / float64(limiter.Limit())))
				if retry < 1 {
					retry = 1
				}
				logger.Warn("Rate limit exceeded.", zap.String("remote_addr", r.RemoteAddr))
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				body, _ := json.Marshal(fetch.Failed(fmt.Errorf("rate limit exceeded")))
				_, _ = w.Write(body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
