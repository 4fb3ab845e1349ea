package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"go.uber.org/zap"

	"SquadCheck/internal/handler"
	"SquadCheck/internal/middleware"
	"SquadCheck/internal/router"
	"SquadCheck/internal/service"
	"SquadCheck/pkg/logger"
	"SquadCheck/pkg/metrics"
	"SquadCheck/storage"

	appconfig "SquadCheck/config"
	pkgotel "SquadCheck/pkg/otel"
)

func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	cfg := appconfig.Cfg

	serverOpts := []config.Option{server.WithHostPorts(net.JoinHostPort(cfg.ServerHost, cfg.ServerPort))}
	middlewares := []app.HandlerFunc{}

	if cfg.OTelEnabled {
		shutdown, err := pkgotel.InitOpenTelemetry(ctx, pkgotel.Config{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTelEndpoint,
			SampleRatio:    cfg.OTelSampleRatio,
		})
		if err != nil {
			logger.Logger.Fatal("Failed to initialize OpenTelemetry", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
			}
		}()

		tracerOpt, tracingMiddleware := middleware.NewServerTracerConfig()
		serverOpts = append(serverOpts, tracerOpt)
		middlewares = append(middlewares, tracingMiddleware, middleware.MetricsMiddleware())
	}

	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics, continuing without them", zap.Error(err))
	}

	// 查询接口只读数据库
	if err := storage.Init(storage.Options{}); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	logger.Logger.Info("Server starting",
		zap.String("service", cfg.ServiceName),
		zap.String("port", cfg.ServerPort),
		zap.String("environment", cfg.Environment),
	)

	h := server.New(serverOpts...)
	router.Register(h, handler.NewChallengeHandler(service.Challenge()), middlewares...)

	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}
