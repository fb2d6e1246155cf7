package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/files"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/notifications"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
	"github.com/platinummonkey/warden/pkg/twofactor"
	"github.com/platinummonkey/warden/pkg/users"
)

// Deps are the external resources the server runs on. Metrics and
// Registry may be nil when metrics are disabled; a worker pool sized from
// the server config is created when Pool is nil.
type Deps struct {
	Config       *config.Config
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	DB           *sql.DB
	Redis        *redis.Client
	Storage      files.Backend
	ExtraStorage []files.Backend // other configured providers, for older files
	Pusher       notifications.Pusher
	Sender       email.Sender
	Pool         *async.WorkerPool
}

// Server owns the API and health listeners
type Server struct {
	deps     Deps
	handler  http.Handler
	api      *http.Server
	health   *http.Server
	shutdown *observability.ShutdownManager
	closers  []observability.ShutdownFunc

	rbac  *rbac.Service
	users *users.Service
}

// New wires every module onto one router
func New(deps Deps) (*Server, error) {
	cfg := deps.Config
	logger := deps.Logger
	if deps.Pool == nil {
		deps.Pool = async.NewWorkerPool(context.Background(), logger, deps.Metrics,
			cfg.Server.Workers, cfg.Server.WorkerQueue, cfg.Server.TaskTimeout)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	mailer, err := email.NewMailer(deps.Sender, cfg.App.ProjectName, deps.Metrics)
	if err != nil {
		return nil, err
	}
	hasher := auth.NewHasher(cfg.Auth.BcryptCost)

	roleStore := rbac.NewStore(deps.DB)
	checker := rbac.NewPermissionChecker(roleStore, cfg.Auth.PermissionCacheMax, cfg.Auth.PermissionCacheTTL, deps.Metrics)
	rbacService := rbac.NewService(roleStore, checker)

	userStore := users.NewStore(deps.DB)
	userService := users.NewService(userStore, roleStore, checker, hasher)

	twoFactor := twofactor.NewService(twofactor.NewStore(deps.DB), hasher, cfg.Auth.TOTPIssuer, deps.Metrics)

	authService := auth.NewService(auth.ServiceDeps{
		Users:        userStore,
		SecondFactor: twoFactor,
		OTPs:         auth.NewOTPStore(deps.Redis, cfg.Auth.PasswordResetTTL),
		Hasher:       hasher,
		Tokens:       tokens,
		Mailer:       mailer,
		Dispatcher:   deps.Pool,
		Metrics:      deps.Metrics,
		Logger:       logger,
		ResetTTL:     cfg.Auth.PasswordResetTTL,
	})

	fileService := files.NewService(files.NewStore(deps.DB), deps.Storage, deps.Metrics, deps.ExtraStorage...)
	notificationService := notifications.NewService(notifications.NewStore(deps.DB), deps.Pusher,
		deps.Metrics, cfg.Push.SendConcurrency)

	health := observability.NewHealthChecker(deps.DB, deps.Redis, cfg.App.Version)

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, r, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(deps.Metrics)))

	router.HandleFunc("/health", health.Readiness).Methods("GET")

	// Unauthenticated /auth routes, rate limited per client IP
	public := router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return strings.HasPrefix(r.URL.Path, "/auth/")
	}).Subrouter()
	if cfg.Auth.RateLimitRequests > 0 {
		limiter := middleware.NewRateLimiter(deps.Redis, cfg.Auth.RateLimitRequests, cfg.Auth.RateLimitWindow, "ratelimit:auth")
		limiter.SetFailOpen(true)
		if err := limiter.SetTrustedProxies(cfg.Auth.TrustedProxies); err != nil {
			return nil, err
		}
		public.Use(limiter.Handler)
	}
	auth.NewHandlers(authService).RegisterRoutes(public)

	protected := router.NewRoute().Subrouter()
	protected.Use(middleware.NewAuthMiddleware(tokens, userStore).Handler)
	users.NewHandlers(userService, checker).RegisterRoutes(protected)
	rbac.NewHandlers(rbacService, checker).RegisterRoutes(protected)
	twofactor.NewHandlers(twoFactor).RegisterRoutes(protected)
	files.NewHandlers(fileService, cfg.Storage.MaxUploadBytes).RegisterRoutes(protected)
	notifications.NewHandlers(notificationService, checker).RegisterRoutes(protected)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, cfg.Observability.OTelServiceName)
	}
	handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(logger),
		httputil.TimingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(handler)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if deps.Registry != nil {
		observability.RegisterMetricsEndpoint(healthMux, deps.Registry)
	}

	s := &Server{
		deps:    deps,
		handler: handler,
		api: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		health: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
			Handler:      healthMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		rbac:  rbacService,
		users: userService,
	}
	s.shutdown = observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, s.api, s.health)
	s.shutdown.RegisterShutdownFunc(s.drain)
	return s, nil
}

// Handler returns the API handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// OnShutdown registers cleanup run, in registration order, after the
// listeners stop and queued background tasks finish. Call it before Run.
func (s *Server) OnShutdown(fn observability.ShutdownFunc) {
	s.closers = append(s.closers, fn)
}

func (s *Server) drain(ctx context.Context) error {
	errs := []error{s.deps.Pool.Shutdown(ctx)}
	for _, fn := range s.closers {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Bootstrap applies migrations, the RBAC seed and the bootstrap admin
func (s *Server) Bootstrap(ctx context.Context) error {
	logger := s.deps.Logger

	if err := postgres.RunMigrations(ctx, s.deps.DB, logger); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	seed, err := rbac.LoadSeed(s.deps.Config.Seed.File)
	if err != nil {
		return err
	}
	if err := s.rbac.ApplySeed(ctx, seed, logger); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}

	if err := s.users.EnsureAdmin(ctx, s.deps.Config.Seed, logger); err != nil {
		return fmt.Errorf("admin bootstrap failed: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts down
// gracefully
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range []*http.Server{s.api, s.health} {
		srv := srv
		g.Go(func() error {
			s.deps.Logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.deps.Logger.Info("Shutting down")
		return s.shutdown.Shutdown()
	})

	return g.Wait()
}
