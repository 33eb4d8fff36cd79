package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/metrics"
	"github.com/openjobspec/ojs-jobstore-nats/internal/scheduler"
	"github.com/openjobspec/ojs-jobstore-nats/internal/server"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := server.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx := context.Background()
	rt, err := server.Open(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to open job store", "driver", cfg.Driver, "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// Initialize Prometheus server info metric
	metrics.Init(core.OJSVersion, cfg.Driver)

	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		registry := scheduler.NewRegistry()
		if err := registry.Register(scheduler.ClassLog, scheduler.LogJob(logger)); err != nil {
			slog.Error("failed to register built-in jobs", "error", err)
			os.Exit(1)
		}
		opts := scheduler.Options{
			InstanceID:  rt.Store.InstanceID(),
			IdleWait:    cfg.PollInterval,
			PoolSize:    cfg.ThreadPoolSize,
			BatchSize:   cfg.BatchSize,
			BatchWindow: cfg.BatchWindow,
			Logger:      logger,
		}
		if rt.Broker != nil {
			opts.Publisher = rt.Broker
		}
		sched = scheduler.New(rt.Store, registry, opts)
		if err := sched.Start(ctx); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	} else if err := rt.Store.Initialize(ctx, nil, nil); err != nil {
		slog.Error("failed to initialize job store", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.NewRouter(rt.Store, rt.Health, cfg.Driver),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("OJS job store listening", "port", cfg.Port, "instance_id", rt.Store.InstanceID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("ojs.v1.JobStore", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		slog.Info("OJS gRPC health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	healthSrv.Shutdown()
	if sched != nil {
		sched.Stop()
	}
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
