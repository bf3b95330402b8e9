package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"echovault-backend/application/services"
	"echovault-backend/interfaces/http/rest/handlers"
	"echovault-backend/interfaces/http/rest/middleware"
	"echovault-backend/pkg/auth"
)

// Router creates and configures the HTTP router
type Router struct {
	echoes         *services.EchoService
	rediscovery    *services.RediscoveryService
	validator      *auth.JWTValidator
	allowedOrigins []string
	logger         *zap.Logger
}

// NewRouter creates a new router instance. validator may be nil in Lambda
// environments where the gateway authorizer verifies identity.
func NewRouter(
	echoes *services.EchoService,
	rediscovery *services.RediscoveryService,
	validator *auth.JWTValidator,
	allowedOrigins []string,
	logger *zap.Logger,
) *Router {
	return &Router{
		echoes:         echoes,
		rediscovery:    rediscovery,
		validator:      validator,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator))

		r.Route("/echoes", func(r chi.Router) {
			echoHandler := handlers.NewEchoHandler(rt.echoes, rt.rediscovery, rt.logger)
			r.Post("/", echoHandler.CreateEcho)
			r.Get("/", echoHandler.ListEchoes)
			r.Post("/upload-url", echoHandler.MintUploadURL)
			// "random" must be routed before the wildcard echo ID.
			r.Get("/random", echoHandler.RandomEcho)
			r.Get("/{echoID}", echoHandler.GetEcho)
			r.Patch("/{echoID}", echoHandler.UpdateEcho)
			r.Delete("/{echoID}", echoHandler.DeleteEcho)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
