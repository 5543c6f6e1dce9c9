package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-backend/config"
	"library-backend/handlers"
	"library-backend/library"
	"library-backend/middleware"
	"library-backend/workers"
)

var (
	configPath string
	envFile    string
)

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func newLogger(c config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// setup loads configuration and opens the library.
func setup() (*config.Config, *logrus.Logger, *library.LibraryManager, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	defaults, err := cfg.Library.Settings()
	if err != nil {
		return nil, nil, nil, err
	}
	mgr, err := library.NewLibraryManager(cfg.Database.Path,
		library.WithDefaults(defaults),
		library.WithLogger(log),
		library.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, log, mgr, nil
}

func main() {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library borrowing and fee management backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")

	root.AddCommand(serveCmd(), createAdminCmd(), settingsCmd(), booksCmd(), overdueCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, mgr, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()
			if err := cfg.RequireSecrets(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log, mgr)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger, mgr *library.LibraryManager) error {
	keys, err := middleware.OpenIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL, log)
	if err != nil {
		return err
	}
	defer keys.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	jobs := []workers.Option{workers.WithPurger(keys), workers.WithRegistry(reg), workers.WithClock(mgr.Now)}
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		jobs = append(jobs, workers.WithSweeper(limiter, 10*time.Minute))
	}

	router := handlers.NewRouter(handlers.Deps{
		Library:       mgr,
		Tokens:        middleware.NewTokenIssuer(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
		Log:           log,
		Limiter:       limiter,
		Metrics:       middleware.NewMetrics(reg),
		Idempotency:   keys,
		ResetURL:      cfg.Server.ResetURL,
		SecureCookies: cfg.Server.SecureCookies,
	})

	sched := workers.NewScheduler(mgr, log, jobs...)
	if err := sched.Schedule(cfg.Workers.OverdueSchedule, cfg.Workers.MaintenanceSchedule); err != nil {
		return err
	}
	sched.Start()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
