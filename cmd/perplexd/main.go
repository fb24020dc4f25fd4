package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perplexdev/perplex/cmd/perplexd/config"
	"github.com/perplexdev/perplex/cmd/perplexd/handlers"
	"github.com/perplexdev/perplex/internal/engine"
	"github.com/perplexdev/perplex/internal/engine/onnx"
	"github.com/perplexdev/perplex/internal/logger"
)

var (
	port          = flag.Int("port", 8080, "HTTP server port")
	host          = flag.String("host", "0.0.0.0", "Host to bind to")
	modelPath     = flag.String("model", "", "Path to the ONNX model file")
	tokenizerPath = flag.String("tokenizer", "", "Path to tokenizer.json")
	batchSize     = flag.Int("batch", 512, "Decode batch size")
	logLevel      = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logFormat     = flag.String("log-format", "console", "Log format (console or json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)
	log := logger.Log.With("perplexd")

	cfg := config.DefaultConfig()
	cfg.Port = *port
	cfg.Host = *host
	cfg.ModelPath = *modelPath
	cfg.TokenizerPath = *tokenizerPath
	cfg.BatchSize = *batchSize
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	log.Info("starting perplexd",
		"version", handlers.Version,
		"addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"model", cfg.ModelPath,
	)

	srv := handlers.NewServer(func() (engine.Engine, error) {
		return onnx.Load(cfg.ModelPath, cfg.TokenizerPath)
	}, cfg.BatchSize)
	defer srv.Shutdown()

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := srv.WaitReady(loadCtx); err != nil {
		cancelLoad()
		log.Error("model load failed", "error", err.Error())
		os.Exit(1)
	}
	cancelLoad()
	log.Info("model loaded")

	logging := handlers.NewLoggingMiddleware()

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.HealthzHandler())
	mux.Handle("/readyz", handlers.ReadyzHandler(srv))
	mux.Handle("/version", handlers.VersionHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/analyze", handlers.AnalyzeHandler(srv))
	mux.Handle("/api/tokenize", handlers.TokenizeHandler(srv))
	mux.Handle("/ws", handlers.WebSocketHandler(srv))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: logging.Middleware(mux),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("server stopped")
}
