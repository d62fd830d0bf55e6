package server

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/conclave-ai/conclave/internal/ctxkeys"
	"github.com/conclave-ai/conclave/internal/metrics"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in declaration order: the first listed runs
// outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctxkeys.RequestID(ctx)
	return id
}

// Recovery converts handler panics into a 500 response.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					writeJSON(w, http.StatusInternalServerError, Response{
						Success:   false,
						Error:     &ErrorInfo{Code: "INTERNAL_ERROR", Message: "internal error"},
						Timestamp: time.Now(),
						RequestID: requestIDFrom(r.Context()),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID assigns each request an id, honoring an incoming X-Request-ID.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Unwrap exposes the underlying writer so http.ResponseController (and
// libraries that follow its convention, like coder/websocket) can reach
// Hijacker and Flusher through the wrapper.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Logging emits one structured line per request and feeds the collector.
// collector may be nil.
func Logging(logger *zap.Logger, collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			logger.Info("request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("remote", clientAddr(r)),
			)
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, r.URL.Path, rw.status, elapsed)
			}
		})
	}
}

// clientLimiter tracks one client's token bucket and its last use, so idle
// entries can be pruned.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit applies a per-client token bucket keyed by remote address.
func RateLimit(rps float64, burst int, logger *zap.Logger) Middleware {
	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)

	lookup := func(addr string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		cl, ok := clients[addr]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[addr] = cl
		}
		cl.lastSeen = now

		// Opportunistic prune of entries idle for ten minutes.
		if len(clients) > 1024 {
			for k, v := range clients {
				if now.Sub(v.lastSeen) > 10*time.Minute {
					delete(clients, k)
				}
			}
		}
		return cl.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)
			if !lookup(addr).Allow() {
				logger.Warn("rate limit exceeded", zap.String("remote", addr))
				writeJSON(w, http.StatusTooManyRequests, Response{
					Success:   false,
					Error:     &ErrorInfo{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true},
					Timestamp: time.Now(),
					RequestID: requestIDFrom(r.Context()),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JWTAuth validates a Bearer token signed with an HMAC secret. The token
// subject becomes the client id on the request context.
func JWTAuth(secret string, logger *zap.Logger) Middleware {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}

	unauthorized := func(w http.ResponseWriter, r *http.Request, msg string) {
		writeJSON(w, http.StatusUnauthorized, Response{
			Success:   false,
			Error:     &ErrorInfo{Code: "UNAUTHORIZED", Message: msg},
			Timestamp: time.Now(),
			RequestID: requestIDFrom(r.Context()),
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				unauthorized(w, r, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				logger.Warn("token rejected", zap.Error(err))
				unauthorized(w, r, "invalid token")
				return
			}

			ctx := r.Context()
			if sub, err := claims.GetSubject(); err == nil && sub != "" {
				ctx = ctxkeys.WithClientID(ctx, sub)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientAddr strips the port from the remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
