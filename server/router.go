package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"appboot/metrics"
	"appboot/static"
)

// NewRouter builds the serving surface: liveness, metrics and the
// collected static assets. Application routes live behind the reverse
// proxy in front of this process, not here.
func NewRouter(staticRoot string, logger *zap.SugaredLogger) (*mux.Router, error) {
	manifest, err := static.LoadManifest(staticRoot)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", staticHandler(staticRoot, manifest)))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	r.Use(accessLogMiddleware(logger))

	return r, nil
}

// staticHandler serves collected assets. Logical names found in the
// manifest resolve to their content-hashed copies, which get far-future
// cache headers since their names change with their content.
func staticHandler(root string, manifest map[string]string) http.Handler {
	fileServer := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rel := path.Clean(req.URL.Path)
		if hashed, ok := manifest[rel]; ok {
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(hashed))); err == nil {
				req.URL.Path = hashed
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
		}
		fileServer.ServeHTTP(w, req)
	})
}

// statusRecorder captures the response code for access logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// accessLogMiddleware writes one access log line per request and records
// request metrics.
func accessLogMiddleware(logger *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, req)

			elapsed := time.Since(start)
			metrics.RequestsTotal.WithLabelValues(strconv.Itoa(rec.status)).Inc()
			metrics.RequestDuration.Observe(elapsed.Seconds())

			logger.Infow("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
				"remote", req.RemoteAddr)
		})
	}
}
