package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/Krimson/holter-monitory/device/docs" // Swagger docs
	"github.com/Krimson/holter-monitory/device/internal/api"
	"github.com/Krimson/holter-monitory/device/internal/config"
	"github.com/Krimson/holter-monitory/device/internal/handshake"
	"github.com/Krimson/holter-monitory/device/internal/health"
	"github.com/Krimson/holter-monitory/device/internal/ledger"
	"github.com/Krimson/holter-monitory/device/internal/orchestrator"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/storage"
	"github.com/Krimson/holter-monitory/device/internal/transfer"
	"github.com/Krimson/holter-monitory/device/internal/websocket"
	"github.com/Krimson/holter-monitory/pkg/pubsub"
)

// @title Holter Device Status API
// @version 1.0
// @description Состояние конвейера захвата и журнал сессий холтеровского монитора.
// @BasePath /

func main() {
	log.Printf("[INFO] Starting holter capture daemon...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[FATAL] Failed to load configuration: %v", err)
	}
	log.Printf("[INFO] Configuration loaded: device=%s (%d) ecg=%d Hz imu=%d Hz duration=%v",
		cfg.DeviceName, cfg.DeviceID, cfg.ECGRateHz, cfg.IMURateHz, cfg.CaptureDuration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("[FATAL] Failed to open storage: %v", err)
	}

	sensor := sampler.NewSynthetic(sampler.RealClock(), cfg.Synthetic)

	mqttClient := pubsub.NewClient(cfg.MQTT)
	if err := mqttClient.Connect(); err != nil {
		// клиент переподключается сам, сессии до этого закончатся publish_failed
		log.Printf("[WARN] MQTT broker %s unavailable: %v", cfg.MQTT.Broker, err)
	}
	defer mqttClient.Disconnect()

	protocol := handshake.New(mqttClient, handshake.Config{
		DeviceID:     cfg.DeviceKey(),
		RequestTopic: cfg.RequestTopic,
		Timeout:      cfg.HandshakeTimeout,
		PollInterval: cfg.PollInterval,
	})
	uploader := transfer.NewClient(store, nil, cfg.TransferTimeout)

	sessions := openLedger(ctx, cfg)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	healthServer := health.NewHealthServer()

	orch := orchestrator.New(orchestrator.Config{
		DeviceID:         cfg.DeviceID,
		CaptureDuration:  cfg.CaptureDuration,
		ECGRateHz:        cfg.ECGRateHz,
		IMURateHz:        cfg.IMURateHz,
		BufferSize:       cfg.BufferSize,
		FlushInterval:    cfg.FlushInterval,
		ProgressInterval: cfg.ProgressInterval,
		UploadAttempts:   cfg.UploadAttempts,
		RetryBackoff:     cfg.RetryBackoff,
	}, orchestrator.Deps{
		Store:     store,
		Sensor:    sensor,
		Handshake: protocol,
		Uploader:  uploader,
		Observers: []orchestrator.Observer{
			ledger.NewRecorder(sessions, 2*time.Second),
			hub,
			healthServer,
		},
	})

	// gRPC health
	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	address := fmt.Sprintf(":%s", cfg.GRPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.Fatalf("[FATAL] Failed to listen on %s: %v", address, err)
	}
	log.Printf("[INFO] gRPC server listening on %s", address)

	healthServer.SetServingStatus("")
	healthServer.SetServingStatus(health.CaptureService)

	// HTTP API
	handler := api.NewHTTPHandler(orch, sessions, hub.HandleWebSocket)
	handler.AddStats("sensor", func() interface{} { return sensor.GetStats() })
	handler.AddStats("mqtt", func() interface{} { return mqttClient.GetStats() })

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		log.Printf("[INFO] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runSessions(ctx, orch, cfg)
	}()

	select {
	case err := <-serverErrChan:
		log.Printf("[ERROR] Server error: %v", err)
		stop()
	case <-ctx.Done():
		log.Printf("[INFO] Received shutdown signal, starting graceful shutdown...")
	case <-loopDone:
		log.Printf("[INFO] Session limit reached, shutting down")
		stop()
	}

	healthServer.SetNotServingStatus("")
	healthServer.SetNotServingStatus(health.CaptureService)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// захват прерывается сразу, сетевой шаг доживает до своего таймаута
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		log.Printf("[WARN] Session loop did not stop in time")
	}
	orch.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP shutdown: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Printf("[WARN] Graceful shutdown timeout, forcing stop")
		grpcServer.Stop()
	}

	log.Printf("[INFO] Daemon stopped")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.UseMemoryStore() {
		log.Printf("[INFO] Using in-memory storage (simulation)")
		return storage.NewMemory(), nil
	}
	fs, err := storage.NewFS(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Sessions are written to %s", fs.Root())
	return fs, nil
}

// openLedger подключает Redis, при недоступности журнал ведется в памяти
func openLedger(ctx context.Context, cfg *config.Config) ledger.Store {
	if cfg.RedisAddr == "" {
		return ledger.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[WARN] Redis %s unavailable, keeping session ledger in memory: %v", cfg.RedisAddr, err)
		client.Close()
		return ledger.NewMemoryStore()
	}

	log.Printf("[INFO] Connected to Redis at %s", cfg.RedisAddr)
	return ledger.NewRedisStore(client, 7*24*time.Hour)
}

// runSessions - цикл восстановления: каждая сессия заканчивается Complete
// или Error, после чего конвейер сбрасывается и начинается следующая.
func runSessions(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) {
	for n := 1; cfg.MaxSessions == 0 || n <= cfg.MaxSessions; n++ {
		report, err := orch.RunSession(ctx)
		if err != nil && report == nil {
			log.Printf("[ERROR] Session could not start: %v", err)
			return
		}

		log.Printf("[STATS] Session %s: state=%s reason=%q ecg=%d imu=%d size=%d read_errors=%d",
			report.Session.ID, report.State, report.Reason, report.NumECG, report.NumIMU,
			report.FileSize, report.ReadErrors)

		if ctx.Err() != nil {
			return
		}
		if err := orch.Reset(); err != nil {
			log.Printf("[ERROR] Reset failed: %v", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.IdleBetweenSessions):
		}
	}
}
