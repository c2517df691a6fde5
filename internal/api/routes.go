package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-call/internal/config"
	"github.com/yegors/co-call/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Dependencies, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(deps, cfg, log),
		middleware: NewMiddleware(log),
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// Outbound calls
	router.Post("/make-call", r.handler.MakeCall)

	// Provider webhooks
	router.Group(func(router chi.Router) {
		if r.handler.validator != nil {
			router.Use(r.middleware.ProviderSignature(r.handler.validator, r.handler.baseURL))
		}
		router.Post("/handle-call", r.handler.HandleCall)
		router.Post("/process-call", r.handler.ProcessCall)
		router.Post("/call-status", r.handler.CallStatus)
	})

	// Realtime media stream from the provider
	router.Get(r.handler.streamPath, r.handler.MediaStream)

	// Call retrieval
	router.Get("/calls", r.handler.ListCalls)
	router.Get("/calls/{callSid}", r.handler.GetCall)
	router.Get("/calls/{callSid}/answers", r.handler.GetCallAnswers)
	router.Get("/answers", r.handler.GetRecentAnswers)

	// Listener websocket
	router.Get("/ws", r.handler.HandleWebSocket)

	router.Get("/health", r.handler.GetHealth)

	return router
}
