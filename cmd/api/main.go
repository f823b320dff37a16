package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/blob"
	"safeworks.org/ptw/internal/config"
	"safeworks.org/ptw/internal/directory"
	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/httpapi"
	"safeworks.org/ptw/internal/ids"
	"safeworks.org/ptw/internal/notify"
	"safeworks.org/ptw/internal/obs"
	"safeworks.org/ptw/internal/permit"
	"safeworks.org/ptw/internal/policy"
	"safeworks.org/ptw/internal/store/memstore"
	"safeworks.org/ptw/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// repositories is the storage backend the services run on.
type repositories interface {
	Permits() permit.Repository
	Evidence() evidence.Repository
	Directory() directory.Repository
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	if err := run(); err != nil {
		obs.Logger().WithError(err).Fatal("ptw-api stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	build := obs.RecordBuild(obs.Build{Version: version, Commit: commit, Environment: cfg.Environment})
	logger := obs.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, obs.TracingOptions{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     build.Version,
		Environment: cfg.Environment,
	})
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	files, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}

	approvals := policy.Default()
	if cfg.ApprovalPolicyPath != "" {
		if approvals, err = policy.Load(cfg.ApprovalPolicyPath); err != nil {
			return fmt.Errorf("load approval policy: %w", err)
		}
	}

	pub, err := notify.NewPublisher(cfg.Notify)
	if err != nil {
		return fmt.Errorf("notify publisher: %w", err)
	}
	dispatcher := notify.NewDispatcher(pub, cfg.Notify.QueueSize)

	secret := cfg.Auth.Secret
	if secret == "" {
		secret = ids.New()
		logger.Warn("PTW_AUTH_SECRET not set, using an ephemeral signing key")
	}
	tokens, err := auth.NewTokens(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	authz, err := auth.NewAuthorizer(nil)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: store}
	api := httpapi.New(httpapi.Deps{
		Workflow:  permit.NewWorkflow(store.Permits(), approvals, dispatcher, permit.WithFiles(files)),
		Evidence:  evidence.NewCoordinator(store.Evidence(), files),
		Directory: directory.NewService(store.Directory(), tokens),
		Tokens:    tokens,
		Authz:     authz,
		Ready:     probe,
	}, httpapi.Options{
		Version:        build.Version,
		Commit:         build.Commit,
		Production:     cfg.IsProduction(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSecond:  cfg.RateLimit.PerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	health := httpapi.NewHealthService(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		logger.WithFields(logrus.Fields{"addr": srv.Addr, "version": build.Version, "commit": build.Commit}).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", cfg.HTTP.GRPCAddr).Info("grpc health listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go health.Run(ctx, 10*time.Second)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		logger.WithError(err).Error("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	health.Shutdown()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.WithError(serr).Warn("http shutdown")
	}
	grpcSrv.GracefulStop()
	if derr := dispatcher.Close(shutdownCtx); derr != nil {
		logger.WithError(derr).Warn("notify shutdown")
	}
	if cerr := store.Close(); cerr != nil {
		logger.WithError(cerr).Warn("store close")
	}
	if terr := shutdownTracing(shutdownCtx); terr != nil {
		logger.WithError(terr).Warn("tracing shutdown")
	}
	logger.Info("stopped")
	return err
}

func openStore(cfg *config.Config, logger *logrus.Entry) (repositories, error) {
	if cfg.Database.DSN == "" {
		if cfg.IsProduction() {
			return nil, errors.New("PTW_PG_DSN is required in production")
		}
		logger.Warn("PTW_PG_DSN not set, running on the in-memory store")
		return memstore.New(), nil
	}
	st, err := pg.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}
