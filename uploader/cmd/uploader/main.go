package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/Krimson/holter-monitory/pkg/pubsub"
	"github.com/Krimson/holter-monitory/uploader/internal/broker"
	"github.com/Krimson/holter-monitory/uploader/internal/config"
	"github.com/Krimson/holter-monitory/uploader/internal/presign"
	"github.com/Krimson/holter-monitory/uploader/internal/repository"
)

func main() {
	log.Printf("[INFO] Starting upload URL service...")

	cfg := config.Load()
	log.Printf("[INFO] Configuration loaded: bucket=%s region=%s request_topic=%s",
		cfg.Bucket, cfg.Region, cfg.RequestTopic)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := presign.New(ctx, presign.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		UsePathStyle:    cfg.UsePathStyle,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretKey,
		Expiration:      cfg.URLExpiration,
	})
	if err != nil {
		log.Fatalf("[FATAL] Failed to init S3 presigner: %v", err)
	}

	var repo repository.Repository = repository.NewMemoryRepository()
	if cfg.PostgresDSN != "" {
		pg, err := repository.NewPostgresRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("[FATAL] Failed to connect to PostgreSQL: %v", err)
		}
		defer pg.Close()
		repo = pg
		log.Printf("[INFO] Upload requests are recorded in PostgreSQL")
	}

	mqttClient := pubsub.NewClient(cfg.MQTT)
	if err := mqttClient.Connect(); err != nil {
		log.Fatalf("[FATAL] Failed to connect to MQTT broker %s: %v", cfg.MQTT.Broker, err)
	}
	defer mqttClient.Disconnect()

	handler := broker.NewHandler(broker.Config{
		RequestTopic:        cfg.RequestTopic,
		ResponseTopicPrefix: cfg.ResponseTopicPrefix,
	}, mqttClient, signer, repo)
	if err := handler.Start(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"mqtt":   mqttClient.GetStats(),
			"broker": handler.GetStats(),
		})
	}).Methods("GET")
	router.HandleFunc("/api/devices/{device}/uploads", func(w http.ResponseWriter, r *http.Request) {
		requests, err := repo.ListByDevice(r.Context(), mux.Vars(r)["device"], 50)
		if err != nil {
			log.Printf("[ERROR] Failed to list uploads: %v", err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list uploads"})
			return
		}
		respondJSON(w, http.StatusOK, requests)
	}).Methods("GET")

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[INFO] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s := handler.GetStats()
				log.Printf("[STATS] handled=%d rejected=%d failed=%d", s.Handled, s.Rejected, s.Failed)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[INFO] Starting graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("[ERROR] %v", err)
	}
	log.Printf("[INFO] Server stopped")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ERROR] Failed to encode JSON response: %v", err)
	}
}
