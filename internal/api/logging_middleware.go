package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"lirashield/pkg/lirashield"
)

// apiWriter captures what the request log needs from a response: status, size and the
// error the handler reported.
type apiWriter struct {
	middleware.WrapResponseWriter
	errMessage string
	errCode    lirashield.ErrorCode
}

func newAPIWriter(w http.ResponseWriter, r *http.Request) *apiWriter {
	return &apiWriter{WrapResponseWriter: middleware.NewWrapResponseWriter(w, r.ProtoMajor)}
}

func (w *apiWriter) SetErrorMessage(message string) { w.errMessage = message }

func (w *apiWriter) SetErrorCode(code lirashield.ErrorCode) { w.errCode = code }

func (w *apiWriter) Flush() {
	if flusher, ok := w.WrapResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// requestLoggingMiddleware logs one line per API call. Data gaps (missing rates or CPI)
// come back as 422 and log at Warn with their error code, server faults at Error.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			aw := newAPIWriter(w, r)

			next.ServeHTTP(aw, r)

			status := aw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := append(requestFields(r),
				"status", status,
				"bytes", aw.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if aw.errCode != "" {
				fields = append(fields, "error_code", string(aw.errCode))
			}
			if aw.errMessage != "" {
				fields = append(fields, "error_message", aw.errMessage)
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "api request", fields...)
		})
	}
}

func recoveryLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				logger.Error("panic recovered", append(requestFields(r),
					"panic", fmt.Sprint(recovered),
					"stack", string(debug.Stack()),
				)...)

				if sw, ok := w.(interface{ Status() int }); ok && sw.Status() != 0 {
					return
				}
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Code:      http.StatusInternalServerError,
					ErrorCode: string(lirashield.ErrCodeInternal),
					Message:   "internal server error",
					RequestID: middleware.GetReqID(r.Context()),
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// requestFields identifies a call: which part of the API it hit and the ticker or row id
// it addressed, from the path or the query.
func requestFields(r *http.Request) []any {
	route := routePattern(r)
	fields := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"route", route,
		"area", apiArea(route, r.URL.Path),
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key != "" && key != "*" && i < len(rctx.URLParams.Values) {
				fields = append(fields, key, rctx.URLParams.Values[i])
			}
		}
	}
	query := r.URL.Query()
	for _, key := range []string{"ticker", "tickers", "date", "start_date", "end_date", "base_date"} {
		if v := query.Get(key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return append(fields, "remote_ip", r.RemoteAddr, "user_agent", r.UserAgent())
}

// apiArea is the resource segment after /api/, e.g. "cpi" for /api/cpi/cumulative.
func apiArea(route, path string) string {
	p := route
	if p == "" {
		p = path
	}
	p = strings.TrimPrefix(p, "/api/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

// rateLimitMiddleware sheds load above perSecond sustained requests, with bursts of twice that.
func rateLimitMiddleware(perSecond float64) func(http.Handler) http.Handler {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
