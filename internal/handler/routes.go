package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GulDilin/image-deduplication-storage/internal/service"
)

// Deps collects what the routes are served from.
type Deps struct {
	Images   *ImageHandler
	Health   *HealthHandler
	Limiter  *service.TokenBucket
	Gatherer prometheus.Gatherer
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	h := d.Images
	mux.Handle("POST /api/images", LimitUploads(d.Limiter, http.HandlerFunc(h.HandleUpload)))
	mux.HandleFunc("GET /api/images", h.HandleList)
	mux.HandleFunc("GET /api/images/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/images/{id}", h.HandleRename)
	mux.HandleFunc("DELETE /api/images/{id}", h.HandleRelease)
	mux.HandleFunc("GET /api/images/{id}/file", h.HandleFile)
	mux.HandleFunc("GET /api/images/{id}/thumbnails", h.HandleListThumbnails)
	mux.Handle("POST /api/images/{id}/thumbnails", LimitUploads(d.Limiter, http.HandlerFunc(h.HandleCreateThumbnail)))
	mux.HandleFunc("GET /api/thumbnails/{id}", h.HandleGetThumbnail)
	mux.HandleFunc("DELETE /api/thumbnails/{id}", h.HandleDeleteThumbnail)

	health := d.Health
	if health == nil {
		health = NewHealthHandler(nil)
	}
	mux.HandleFunc("GET /healthz", health.HandleHealthz)

	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Wrap applies the middleware chain shared by every route.
func Wrap(next http.Handler, corsOrigins []string) http.Handler {
	return LogRequests(SecurityHeaders(CORS(corsOrigins, next)))
}
