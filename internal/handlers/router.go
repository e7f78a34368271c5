package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maneesh/filelink/internal/metrics"
)

// NewRouter registers the download gateway and status routes.
func NewRouter(dh *DownloadHandler, sh *StatusHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.Middleware)

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", sh.Health).Methods(http.MethodGet)

	router.Handle("/", otelhttp.NewHandler(http.HandlerFunc(sh.Home), "GET /")).Methods(http.MethodGet)
	router.Handle("/api/stats", otelhttp.NewHandler(http.HandlerFunc(sh.Stats), "GET /api/stats")).Methods(http.MethodGet)
	router.Handle("/download/{id}", otelhttp.NewHandler(dh, "GET /download/{id}")).Methods(http.MethodGet)

	return router
}
