package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/statement-ledger/pkg/interceptors"
	"github.com/FACorreiaa/statement-ledger/pkg/observability"
)

const apiRoute = "/v1"

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	tracer := otel.GetTracerProvider().Tracer("statement-ledger/api")

	var rateLimiter interceptors.Middleware
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter := rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
		rateLimiter = interceptors.NewRateLimitInterceptor(limiter)
	}

	apiMux := http.NewServeMux()
	deps.ImportHandler.Routes(apiMux)

	// Setup middleware chain, outermost first
	mux.Handle(apiRoute+"/", interceptors.Chain(apiMux,
		interceptors.NewRequestIDInterceptor("X-Request-ID"),
		interceptors.NewTracingInterceptor(tracer, apiRoute),
		rateLimiter,
		interceptors.NewRecoveryInterceptor(deps.Logger),
		interceptors.NewLoggingInterceptor(deps.Logger),
		observability.NewMetricsMiddleware(apiRoute),
		interceptors.NewBodyLimitInterceptor(deps.Config.Server.MaxUploadBytes+1<<20),
	))
	deps.Logger.Info("registered API routes", slog.String("prefix", apiRoute))

	// Register health and metrics routes
	registerUtilityRoutes(mux, deps)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           7200, // Cache preflights for 2 hours
	})

	return corsHandler.Handler(mux)
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Liveness: the process answers.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			deps.Logger.Error("failed to write health response", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered health check", "path", "/healthz")

	// Extended health with details on dependencies
	mux.HandleFunc("GET /health/details", func(w http.ResponseWriter, _ *http.Request) {
		type status struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		result := map[string]status{
			"db":     {Status: "disabled"},
			"search": {Status: "disabled"},
			"email":  {Status: "disabled"},
		}

		failed := false
		if deps.DB != nil {
			result["db"] = status{Status: "ok"}
			if err := deps.DB.Health(); err != nil {
				result["db"] = status{Status: "fail", Detail: err.Error()}
				failed = true
			}
		}
		if deps.OriginIndex != nil {
			result["search"] = status{Status: "ok"}
			if _, err := deps.OriginIndex.DocumentCount(); err != nil {
				result["search"] = status{Status: "fail", Detail: err.Error()}
				failed = true
			}
		}
		if deps.Mailer != nil && deps.Mailer.Enabled() {
			result["email"] = status{Status: "ok"}
		}

		w.Header().Set("Content-Type", "application/json")
		if failed {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		if err := json.NewEncoder(w).Encode(result); err != nil {
			deps.Logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered health details", "path", "/health/details")

	// Readiness: the database answers when persistence is on.
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.Health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				if _, writeErr := w.Write([]byte("database unhealthy")); writeErr != nil {
					deps.Logger.Error("failed to write readiness response", slog.Any("error", writeErr))
				}
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			deps.Logger.Error("failed to write readiness response", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered readiness check", "path", "/ready")

	// Metrics endpoint (Prometheus)
	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}
