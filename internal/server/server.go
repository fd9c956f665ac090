package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/config"
	"github.com/IotchulindraRai/photofilter/internal/handler"
	"github.com/IotchulindraRai/photofilter/internal/metrics"
	"github.com/IotchulindraRai/photofilter/internal/payment"
	"github.com/IotchulindraRai/photofilter/internal/repository"
	"github.com/IotchulindraRai/photofilter/internal/service"
	"github.com/IotchulindraRai/photofilter/pkg/imaging"
)

type Server struct {
	httpServer *http.Server
	service    service.ImageService
	stop       chan struct{}
	cfg        *config.Config
	log        *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	var exporter repository.S3Repository
	if cfg.S3.Enabled {
		repo, err := repository.NewS3Repository(context.Background(), &cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 repository: %w", err)
		}
		exporter = repo
	}

	store := repository.NewRecordStore(cfg.App.HistorySize, log)
	processor := imaging.NewImageProcessor(log, cfg.App.MaxPixels)
	gateway := payment.NewHTTPGateway(&cfg.Payment, log)

	imageService := service.NewImageService(store, processor, gateway, exporter, cfg, log)

	h := handler.NewHandler(imageService, cfg.App.MaxUploadSize, log)
	limiter := handler.NewRateLimiter(cfg.App.RateLimit, cfg.App.RateBurst, log)

	stop := make(chan struct{})
	limiter.StartCleanup(time.Minute, stop)

	server := &Server{
		httpServer: &http.Server{
			Addr:           cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:        NewRouter(h, limiter),
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		service: imageService,
		stop:    stop,
		cfg:     cfg,
		log:     log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.Bool("export_enabled", exporter != nil))

	return server, nil
}

func NewRouter(h *handler.Handler, limiter *handler.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		api.POST("/images", h.UploadImage)
		api.GET("/images", h.ListImages)
		api.GET("/images/current", h.GetCurrent)
		api.PUT("/images/current/:id", h.SelectCurrent)
		api.GET("/images/:id", h.GetImage)
		api.GET("/images/:id/original", h.GetOriginal)
		api.GET("/images/:id/download", h.DownloadImage)
		api.POST("/images/:id/export", h.ExportImage)
		api.GET("/exports", h.ListExports)
		api.GET("/exports/object", h.GetExport)

		limited := api.Group("/images/:id", limiter.Middleware())
		limited.POST("/transform", h.TransformImage)
		limited.POST("/retry", h.RetryImage)
		limited.POST("/pay", h.PayImage)
	}

	return router
}

func (s *Server) Run() error {
	s.log.Info("Server is running",
		zap.String("address", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, then drains in-flight transforms.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	err := s.httpServer.Shutdown(ctx)
	close(s.stop)
	s.service.Close()
	return err
}
