package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"marslog/internal/config"
	apierrors "marslog/internal/errors"
	"marslog/internal/infrastructure"
	customMiddleware "marslog/internal/middleware"
	"marslog/internal/services"
	handlers "marslog/internal/transport/http"
)

const (
	VERSION = infrastructure.ServiceVersion
	AppName = "MARSLOG"
)

// Application represents the main application container
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.Providers
	License   *LicenseStack
	Router    *chi.Mux
	Server    *http.Server

	logCloser io.Closer
}

// NewApplication loads the configuration and builds the application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(cfg)
}

// New builds the application from cfg: logger, telemetry, license stack,
// router and server.
func New(cfg *config.Config) (*Application, error) {
	logger, logCloser, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.String("store", cfg.License.Store))

	telemetry, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	stack, err := BuildLicenseStack(cfg, logger, telemetry.Meter)
	if err != nil {
		telemetry.Shutdown(context.Background())
		logCloser.Close()
		return nil, err
	}

	a := &Application{
		Config:    cfg,
		Logger:    logger,
		Telemetry: telemetry,
		License:   stack,
		logCloser: logCloser,
	}

	if err := a.setupRouter(); err != nil {
		a.release(context.Background())
		return nil, err
	}
	a.createServer()
	return a, nil
}

func (a *Application) setupRouter() error {
	errHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Level == "debug")

	telemetry, err := customMiddleware.NewTelemetry(nil, a.Telemetry.Meter)
	if err != nil {
		return fmt.Errorf("failed to create telemetry middleware: %w", err)
	}

	r := chi.NewRouter()
	// RequestID → RealIP → OTel → Logger → Recoverer
	r.Use(customMiddleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(telemetry.Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(errHandler.Recoverer)
	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	if a.Telemetry.MetricsHandler != nil {
		r.Handle("/metrics", a.Telemetry.MetricsHandler)
	}

	health := handlers.NewHealthHandler(services.NewHealthService(VERSION, a.License.Validator, a.Logger), a.Logger)
	r.Mount("/api/health", health.Routes())
	r.Get("/api/version", health.Version)

	r.Group(func(r chi.Router) {
		if rl := a.Config.Security.RateLimit; rl.Enabled && rl.RPS > 0 {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
		}

		var activationLimit func(http.Handler) http.Handler
		if sec := a.Config.Security; sec.ActivationRPS > 0 {
			activationLimit = customMiddleware.NewRateLimiter(sec.ActivationRPS, max(sec.ActivationBurst, 1), a.Logger).Handler
		}
		licenseHandler := handlers.NewLicenseHandler(a.License.Validator, a.License.Guard, handlers.HandlerConfig{
			AdminTokenHash:  a.Config.Security.AdminTokenHash,
			SessionCookie:   a.Config.License.SessionCookie,
			ActivationLimit: activationLimit,
			Timeout:         a.Config.Server.WriteTimeout,
		}, a.Logger)
		r.Mount("/api/license", licenseHandler.Routes())

		pageGuard := customMiddleware.NewPageGuard(a.License.Guard, a.Config.License.SessionCookie, a.Logger)
		pages := http.StripPrefix("/ui", http.FileServer(http.Dir(a.Config.Server.WebDir)))
		r.With(pageGuard.Handler).Handle("/ui/*", pages)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/ui/", http.StatusFound)
		})
	})

	a.Router = r
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Address(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start begins serving on the configured address. Serve errors are delivered
// on the returned channel.
func (a *Application) Start(ctx context.Context) (<-chan error, error) {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln), nil
}

// Serve serves on ln in the background.
func (a *Application) Serve(ctx context.Context, ln net.Listener) <-chan error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("address", ln.Addr().String()),
		slog.String("web_dir", a.Config.Server.WebDir),
		slog.String("trial_file", a.License.Store.Location(a.Config.License.TrialFile)))

	errCh := make(chan error, 1)
	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := a.release(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release frees everything New acquired except the server.
func (a *Application) release(ctx context.Context) error {
	var errs []error
	if err := a.License.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh, err := a.Start(ctx)
	if err != nil {
		a.release(context.Background())
		return err
	}

	select {
	case <-ctx.Done():
		a.Logger.Info("Received interrupt signal")
	case err := <-errCh:
		if err != nil {
			a.Logger.Error("Server error", slog.String("error", err.Error()))
		}
	}
	return a.Stop(context.Background())
}
