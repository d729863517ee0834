package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/nestlog/internal/api"
	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/config"
	"example.com/nestlog/internal/events"
	"example.com/nestlog/internal/gateway"
	"example.com/nestlog/internal/scratch"
	"example.com/nestlog/internal/store"
	httptransport "example.com/nestlog/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := cfg.ScratchDBPath
	if dbPath == "" {
		var err error
		dbPath, err = scratch.DefaultPath()
		if err != nil {
			log.Fatalf("failed to resolve scratch path: %v", err)
		}
	}
	pad, err := scratch.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open scratch db: %v", err)
	}
	defer pad.Close()

	gw := gateway.NewHTTPGateway(cfg.RemoteBaseURL, cfg.RemoteToken)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventTopic)
		defer kp.Close()
		publisher = kp
	}

	activityStore := store.New(gw, pad, cfg.AccountID,
		store.WithPublisher(publisher),
		store.WithRemoteTimeout(cfg.RemoteTimeout),
	)

	if err := activityStore.Resume(ctx); err != nil {
		log.Printf("startup reconciliation failed, continuing with local state: %v", err)
	}

	handler := api.NewHandler(activityStore)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.DefaultConfig(cfg.HTTPAddress),
		authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("log agent listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Let in-flight remote writes settle before the process exits.
	activityStore.Close()
	activityStore.Wait()
}
