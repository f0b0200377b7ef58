// Command sheetload-web serves the sheetload JSON API.
//
// Environment: SHEETLOAD_ADDR, SHEETLOAD_MAX_UPLOAD_BYTES,
// SHEETLOAD_SESSION_TTL, plus METRICS_BACKEND and METRICS_TAGS for
// Datadog. A .env file in the working directory is loaded first.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sheetload/internal/config"
	"sheetload/internal/metrics"
	"sheetload/internal/metrics/datadog"
	"sheetload/internal/web"

	_ "sheetload/internal/storage/all"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}

	cfg, err := config.LoadServer(os.Getenv)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if backend := os.Getenv("METRICS_BACKEND"); backend == "datadog" {
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "sheetload-web",
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close error: %v", err)
				}
			}()
		}
	}

	srv := web.NewServer(web.Options{MaxUploadBytes: cfg.MaxUploadBytes})
	go srv.RunJanitor(ctx, cfg.SessionTTL)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("max_upload_bytes=%d session_ttl=%s", cfg.MaxUploadBytes, cfg.SessionTTL)
	if err := srv.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
	<-stopped
}
