package server

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Content-Type"
	maxAge       = "600"
)

// CORS admits browser requests only from allowed origins.
//
// Requests carrying any other Origin are rejected with 403 before routing. Requests without an Origin
// (CLI clients, the OAuth redirect) pass through. Preflights from allowed origins get 204.
func CORS(allowed ...string) Middleware {
	origins := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = normalizeOrigin(o); o != "" {
			origins = append(origins, o)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if !slices.Contains(origins, normalizeOrigin(origin)) {
				writeErrorStatus(w, http.StatusForbidden, fmt.Sprintf("origin %s is not allowed", origin))
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Private-Network", "true")

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoopbackOrigins returns the origins a page served by the bridge itself would send for addr.
func LoopbackOrigins(addr string) []string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	return []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
	}
}

func normalizeOrigin(o string) string {
	u, err := url.Parse(strings.TrimSpace(o))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Logging logs each request with method, path, status and duration.
//
// Frequent polling endpoints log at debug level.
func Logging(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			kv := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start).Round(time.Microsecond)}
			switch {
			case rec.status >= http.StatusInternalServerError:
				logger.Error("request", kv...)
			case r.Method == http.MethodGet && isPollPath(r.URL.Path):
				logger.Debug("request", kv...)
			default:
				logger.Info("request", kv...)
			}
		})
	}
}

func isPollPath(p string) bool {
	return p == "/status" || p == "/imports" ||
		strings.HasPrefix(p, "/import/") || strings.HasPrefix(p, "/upload-status/")
}

// Recover turns a handler panic into a 500 response.
func Recover(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("handler panicked", "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
					writeErrorStatus(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
