package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IotchulindraRai/photofilter/internal/config"
	"github.com/IotchulindraRai/photofilter/internal/server"
	"github.com/IotchulindraRai/photofilter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("CRITICAL: Failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.NewSugared(cfg.Log.Level)
	if err != nil {
		os.Stderr.WriteString("CRITICAL: Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	gin.SetMode(gin.ReleaseMode)

	srv, err := server.New(cfg, log.Desugar())
	if err != nil {
		log.Fatal("Failed to create server: ", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Infof("Starting server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed: ", err)
		}
	}()
	sig := <-quit
	log.Infof("Received signal: %v. Shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
