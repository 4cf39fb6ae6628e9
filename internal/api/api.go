package api

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	apierrors "github.com/devcollab/notifyd/internal/api/errors"
	"github.com/devcollab/notifyd/internal/api/models"
	"github.com/devcollab/notifyd/internal/api/response"
	"github.com/devcollab/notifyd/internal/api/validation"
	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// ProducerTokenHeader carries the producer shared secret
const ProducerTokenHeader = "X-Producer-Token"

const userLocal = "userId"

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

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
		AllowedOrigins: []string{"*"},
	}
}

// API handles HTTP endpoints using fiber
type API struct {
	config     Config
	app        *fiber.App
	dispatcher Dispatcher
	transport  Transport
	auth       Authenticator
	ready      atomic.Bool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewAPI creates a new API instance
func NewAPI(config Config, dispatcher Dispatcher, transport Transport, auth Authenticator) *API {
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
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = defaults.AllowedOrigins
	}

	a := &API{
		config:     config,
		dispatcher: dispatcher,
		transport:  transport,
		auth:       auth,
		logger:     logging.Component("api"),
		metrics:    metrics.GetMetrics(),
	}
	a.app = a.newApp()
	return a
}

// App returns the configured fiber app
func (a *API) App() *fiber.App {
	return a.app
}

// Start initializes and runs the API server
func (a *API) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.app.Listen(a.config.Addr)
	}()

	a.ready.Store(true)

	select {
	case err := <-errCh:
		a.ready.Store(false)
		return err
	case <-ctx.Done():
		return nil
	}
}

func (a *API) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           a.config.ReadTimeout,
		WriteTimeout:          a.config.WriteTimeout,
		IdleTimeout:           a.config.IdleTimeout,
		BodyLimit:             validation.MaxBodyBytes,
		DisableStartupMessage: true,
		ErrorHandler:          a.errorHandler,
		Immutable:             true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(a.requestLogger)
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(a.config.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Accept,Authorization,Content-Type," + ProducerTokenHeader,
	}))

	a.registerRoutes(app)
	return app
}

// registerRoutes sets up all API endpoints
func (a *API) registerRoutes(app *fiber.App) {
	// Health checks
	app.Get("/healthz", a.handleHealth)
	app.Get("/readyz", a.handleReady)

	// Metrics endpoint
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	// Realtime sessions
	app.Use("/ws", a.upgradeWebSocket)
	app.Get("/ws", websocket.New(a.transport.FiberWebSocketHandler()))

	app.Post("/notifications", a.requireProducer, a.handleSend)
	app.Get("/notifications/unread", a.identify, a.handleListUnread)
	app.Get("/notifications/unread/count", a.identify, a.handleCountUnread)
	app.Patch("/notifications/read-all", a.handleMarkAllRead)
	app.Patch("/notifications/:id/read", a.handleMarkRead)

	app.Get("/connections/:userId", a.requireProducer, a.handleConnectionStatus)
}

// requestLogger logs requests and records request metrics
func (a *API) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		if handlerErr := a.errorHandler(c, err); handlerErr != nil {
			return handlerErr
		}
	}

	status := c.Response().StatusCode()
	duration := time.Since(start)
	// Label values are retained by prometheus
	method := utils.CopyString(c.Method())
	route := utils.CopyString(c.Route().Path)

	a.metrics.APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	a.metrics.APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())

	var event *zerolog.Event
	switch {
	case status >= 500:
		event = a.logger.Error()
		a.metrics.APIErrorsTotal.WithLabelValues("server").Inc()
	case status >= 400:
		event = a.logger.Warn()
		a.metrics.APIErrorsTotal.WithLabelValues("client").Inc()
	default:
		event = a.logger.Info()
	}

	event.
		Str("method", method).
		Str("path", c.Path()).
		Str("route", route).
		Str("request_id", requestID(c)).
		Int("status", status).
		Dur("duration", duration).
		Msg("Request completed")
	return nil
}

// errorHandler renders errors in the response envelope
func (a *API) errorHandler(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			err = apierrors.NotFoundError("route_not_found", fiberErr.Message)
		case fiber.StatusRequestEntityTooLarge:
			err = apierrors.ValidationError("request_too_large", fiberErr.Message)
		default:
			err = &apierrors.APIError{
				Type:     apierrors.ErrorTypeInternal,
				Code:     "http_error",
				Message:  fiberErr.Message,
				HTTPCode: fiberErr.Code,
			}
		}
	}
	return a.fail(c, err)
}

// upgradeWebSocket resolves the caller before the websocket handshake
func (a *API) upgradeWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	userID, err := a.resolve(c, c.Query("userId"))
	if err != nil {
		return a.fail(c, err)
	}
	if !a.transport.CanAccept(userID) {
		return a.fail(c, apierrors.UnavailableError("too_many_connections", "Connection limit reached"))
	}

	c.Locals(userLocal, userID)
	return c.Next()
}

// identify resolves the caller from the userId query parameter or token
func (a *API) identify(c *fiber.Ctx) error {
	userID, err := a.resolve(c, c.Query("userId"))
	if err != nil {
		return a.fail(c, err)
	}
	c.Locals(userLocal, userID)
	return c.Next()
}

// requireProducer checks the producer token
func (a *API) requireProducer(c *fiber.Ctx) error {
	if err := a.auth.CheckProducer(c.Get(ProducerTokenHeader)); err != nil {
		return a.fail(c, err)
	}
	return c.Next()
}

func (a *API) resolve(c *fiber.Ctx, requestedUser string) (string, error) {
	userID, err := a.auth.Resolve(c.Get(fiber.HeaderAuthorization), c.Query("token"), requestedUser)
	if err != nil && !a.auth.Enabled() {
		return "", apierrors.ValidationError("missing_user_id", "userId is required")
	}
	return userID, err
}

func userFrom(c *fiber.Ctx) string {
	userID, _ := c.Locals(userLocal).(string)
	return userID
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	return id
}

func (a *API) ok(c *fiber.Ctx, status int, data any, meta any) error {
	return c.Status(status).JSON(response.Success(requestID(c), status, data, meta))
}

// fail writes an error response, logging server-side failures
func (a *API) fail(c *fiber.Ctx, err error) error {
	apiErr, body := response.Failure(requestID(c), err)
	if apiErr.HTTPCode >= fiber.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(apiErr.HTTPCode).JSON(body)
}

func (a *API) handleHealth(c *fiber.Ctx) error {
	return a.ok(c, fiber.StatusOK, models.HealthResponse{
		Status:      "ok",
		Connections: a.transport.ActiveConnections(),
	}, nil)
}

func (a *API) handleReady(c *fiber.Ctx) error {
	if !a.ready.Load() {
		return a.fail(c, apierrors.UnavailableError("not_ready", "Server is starting"))
	}
	return a.ok(c, fiber.StatusOK, models.HealthResponse{
		Status:      "ready",
		Connections: a.transport.ActiveConnections(),
	}, nil)
}

// handleSend delivers a notification on behalf of a producer
func (a *API) handleSend(c *fiber.Ctx) error {
	var req models.SendNotificationRequest
	if err := validation.DecodeAndValidate(bytes.NewReader(c.Body()), &req); err != nil {
		a.logger.Debug().Err(err).Msg("Invalid send notification request")
		return a.fail(c, err)
	}

	n, err := a.dispatcher.Send(c.UserContext(), req.ToRequest())
	if err != nil {
		return a.fail(c, err)
	}
	return a.ok(c, fiber.StatusCreated, n, nil)
}

// handleListUnread lists the caller's unread notifications, newest first
func (a *API) handleListUnread(c *fiber.Ctx) error {
	userID := userFrom(c)

	list, err := a.dispatcher.ListUnread(c.UserContext(), userID)
	if err != nil {
		return a.fail(c, err)
	}
	return a.ok(c, fiber.StatusOK,
		models.UnreadListResponse{UserID: userID, Notifications: list},
		response.ListMeta{Count: len(list)},
	)
}

// handleCountUnread returns the caller's unread count
func (a *API) handleCountUnread(c *fiber.Ctx) error {
	userID := userFrom(c)

	count, err := a.dispatcher.CountUnread(c.UserContext(), userID)
	if err != nil {
		return a.fail(c, err)
	}
	return a.ok(c, fiber.StatusOK, models.UnreadCountResponse{UserID: userID, Count: count}, nil)
}

// handleMarkRead acknowledges one notification. With authentication enabled
// only the recipient may acknowledge it.
func (a *API) handleMarkRead(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := validation.Required("id", id); err != nil {
		return a.fail(c, err)
	}

	var (
		n   *notification.Notification
		err error
	)
	if a.auth.Enabled() {
		userID, authErr := a.resolve(c, "")
		if authErr != nil {
			return a.fail(c, authErr)
		}
		n, err = a.dispatcher.MarkReadAs(c.UserContext(), userID, id)
	} else {
		n, err = a.dispatcher.MarkRead(c.UserContext(), id)
	}
	if err != nil {
		return a.fail(c, err)
	}
	return a.ok(c, fiber.StatusOK, n, nil)
}

// handleMarkAllRead acknowledges every unread notification of a user
func (a *API) handleMarkAllRead(c *fiber.Ctx) error {
	var req models.MarkAllReadRequest
	if err := validation.DecodeAndValidate(bytes.NewReader(c.Body()), &req); err != nil {
		return a.fail(c, err)
	}

	userID, err := a.resolve(c, req.UserID)
	if err != nil {
		return a.fail(c, err)
	}

	updated, err := a.dispatcher.MarkAllRead(c.UserContext(), userID)
	if err != nil {
		return a.fail(c, err)
	}
	return a.ok(c, fiber.StatusOK, models.MarkAllReadResponse{UserID: userID, Updated: updated}, nil)
}

// handleConnectionStatus reports whether a user is connected
func (a *API) handleConnectionStatus(c *fiber.Ctx) error {
	userID := c.Params("userId")
	return a.ok(c, fiber.StatusOK, models.ConnectionStatusResponse{
		UserID:    userID,
		Connected: a.dispatcher.IsConnected(userID),
	}, nil)
}

// Shutdown stops the API server
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")
	a.ready.Store(false)
	return a.app.ShutdownWithContext(ctx)
}
