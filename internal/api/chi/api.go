package chi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	apierrors "github.com/devcollab/notifyd/internal/api/errors"
	"github.com/devcollab/notifyd/internal/api/models"
	"github.com/devcollab/notifyd/internal/api/response"
	"github.com/devcollab/notifyd/internal/api/validation"
	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ProducerTokenHeader carries the producer shared secret
const ProducerTokenHeader = "X-Producer-Token"

type contextKey string

const userContextKey = contextKey("user_id")

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// CORS origins, defaults to all
	AllowedOrigins []string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// ChiAPI handles HTTP endpoints using Chi router
type ChiAPI struct {
	config     Config
	router     *chi.Mux
	server     *http.Server
	dispatcher Dispatcher
	transport  Transport
	auth       Authenticator
	ready      atomic.Bool
	logger     zerolog.Logger
}

// NewChiAPI creates a new API instance with Chi router
func NewChiAPI(config Config, dispatcher Dispatcher, transport Transport, auth Authenticator) *ChiAPI {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = defaults.AllowedOrigins
	}

	a := &ChiAPI{
		config:     config,
		dispatcher: dispatcher,
		transport:  transport,
		auth:       auth,
		logger:     logging.Component("api-chi"),
	}
	a.router = a.newRouter()
	return a
}

// Handler returns the configured router
func (a *ChiAPI) Handler() http.Handler {
	return a.router
}

// Start initializes and runs the API server
func (a *ChiAPI) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server with Chi router")

	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}

	a.server = &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("API server error")
		}
	}()

	a.ready.Store(true)
	a.logger.Info().Str("addr", listener.Addr().String()).Msg("API server started")

	<-ctx.Done()
	return nil
}

func (a *ChiAPI) newRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.HTTPMiddleware(telemetry.TracerName))
	r.Use(logging.HTTPMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ProducerTokenHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	a.registerRoutes(r)
	return r
}

// registerRoutes sets up all API endpoints
func (a *ChiAPI) registerRoutes(r chi.Router) {
	// Health checks
	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Realtime sessions are long lived and skip the request timeout
	r.Group(func(r chi.Router) {
		r.Use(a.identify)
		r.Get("/ws", a.handleWebSocket)
		r.Get("/events", a.handleSSE)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.config.RequestTimeout))

		r.With(a.requireProducer).Post("/notifications", a.handleSend)
		r.Patch("/notifications/read-all", a.handleMarkAllRead)
		r.Patch("/notifications/{id}/read", a.handleMarkRead)

		r.Group(func(r chi.Router) {
			r.Use(a.identify)
			r.Get("/notifications/unread", a.handleListUnread)
			r.Get("/notifications/unread/count", a.handleCountUnread)
		})

		r.With(a.requireProducer).Get("/connections/{userId}", a.handleConnectionStatus)
	})
}

// identify resolves the caller and stores the user id in the request context
func (a *ChiAPI) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.ResolveRequest(r)
		if err != nil {
			if !a.auth.Enabled() {
				err = apierrors.ValidationError("missing_user_id", "userId is required")
			}
			response.Error(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireProducer checks the producer token
func (a *ChiAPI) requireProducer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.auth.CheckProducer(r.Header.Get(ProducerTokenHeader)); err != nil {
			response.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey).(string)
	return userID
}

func (a *ChiAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.HealthResponse{
		Status:      "ok",
		Connections: a.transport.ActiveConnections(),
	})
}

func (a *ChiAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		response.Error(w, r, apierrors.UnavailableError("not_ready", "Server is starting"))
		return
	}
	response.JSON(w, r, http.StatusOK, models.HealthResponse{
		Status:      "ready",
		Connections: a.transport.ActiveConnections(),
	})
}

func (a *ChiAPI) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	a.transport.ServeWebSocket(w, r, userFromContext(r.Context()))
}

func (a *ChiAPI) handleSSE(w http.ResponseWriter, r *http.Request) {
	a.transport.ServeSSE(w, r, userFromContext(r.Context()))
}

// handleSend delivers a notification on behalf of a producer
func (a *ChiAPI) handleSend(w http.ResponseWriter, r *http.Request) {
	var req models.SendNotificationRequest
	if err := validation.ParseAndValidate(r, &req); err != nil {
		a.logger.Debug().Err(err).Msg("Invalid send notification request")
		response.Error(w, r, err)
		return
	}

	n, err := a.dispatcher.Send(r.Context(), req.ToRequest())
	if err != nil {
		a.fail(w, r, err, "Failed to send notification")
		return
	}

	response.JSON(w, r, http.StatusCreated, n)
}

// handleListUnread lists the caller's unread notifications, newest first
func (a *ChiAPI) handleListUnread(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	list, err := a.dispatcher.ListUnread(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "Failed to list unread notifications")
		return
	}

	response.WithMeta(w, r, http.StatusOK,
		models.UnreadListResponse{UserID: userID, Notifications: list},
		response.ListMeta{Count: len(list)},
	)
}

// handleCountUnread returns the caller's unread count
func (a *ChiAPI) handleCountUnread(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	count, err := a.dispatcher.CountUnread(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "Failed to count unread notifications")
		return
	}

	response.JSON(w, r, http.StatusOK, models.UnreadCountResponse{UserID: userID, Count: count})
}

// handleMarkRead acknowledges one notification. With authentication enabled
// only the recipient may acknowledge it.
func (a *ChiAPI) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.Required("id", id); err != nil {
		response.Error(w, r, err)
		return
	}

	var (
		n   *notification.Notification
		err error
	)
	if a.auth.Enabled() {
		userID, authErr := a.auth.ResolveRequest(r)
		if authErr != nil {
			response.Error(w, r, authErr)
			return
		}
		n, err = a.dispatcher.MarkReadAs(r.Context(), userID, id)
	} else {
		n, err = a.dispatcher.MarkRead(r.Context(), id)
	}
	if err != nil {
		a.fail(w, r, err, "Failed to mark notification read")
		return
	}

	response.JSON(w, r, http.StatusOK, n)
}

// handleMarkAllRead acknowledges every unread notification of a user
func (a *ChiAPI) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	var req models.MarkAllReadRequest
	if err := validation.ParseAndValidate(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	userID, err := a.auth.Resolve(r.Header.Get("Authorization"), r.URL.Query().Get("token"), req.UserID)
	if err != nil {
		if !a.auth.Enabled() {
			err = apierrors.ValidationError("missing_user_id", "userId is required")
		}
		response.Error(w, r, err)
		return
	}

	updated, err := a.dispatcher.MarkAllRead(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "Failed to mark all notifications read")
		return
	}

	response.JSON(w, r, http.StatusOK, models.MarkAllReadResponse{UserID: userID, Updated: updated})
}

// handleConnectionStatus reports whether a user is connected
func (a *ChiAPI) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	response.JSON(w, r, http.StatusOK, models.ConnectionStatusResponse{
		UserID:    userID,
		Connected: a.dispatcher.IsConnected(userID),
	})
}

// fail writes an error response, logging server-side failures
func (a *ChiAPI) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	apiErr := apierrors.FromError(err)
	if apiErr.HTTPCode >= http.StatusInternalServerError {
		telemetry.MarkSpanError(r.Context(), err)
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg(msg)
	}
	response.Error(w, r, apiErr)
}

// Shutdown stops the API server
func (a *ChiAPI) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")
	a.ready.Store(false)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
