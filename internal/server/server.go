package server

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"detectweb/internal/config"
	"detectweb/internal/detector"
	"detectweb/internal/handler"
	"detectweb/internal/labels"
	"detectweb/internal/repository"
	"detectweb/internal/service"
	"detectweb/internal/workspace"
	"detectweb/web"
)

type Server struct {
	httpServer *http.Server
	detector   detector.Detector
	cfg        *config.Config
	log        *zap.Logger
}

// New wires the detection pipeline behind the HTTP routes. The server owns
// det and closes it on Shutdown.
func New(cfg *config.Config, det detector.Detector, log *zap.Logger) (*Server, error) {
	ws, err := workspace.New(cfg.App.UploadDir, cfg.App.PredictionsDir, det.Layout().Dir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare workspace: %w", err)
	}

	mode, err := labels.ParseMode(cfg.App.CountMatch)
	if err != nil {
		return nil, err
	}
	matcher := labels.Matcher{Classes: cfg.App.CountClasses, Mode: mode}

	detectionService := service.NewDetectionService(ws, det, repository.NewResultRepository(cfg.App.ResultHistory), matcher, log)

	h := handler.NewHandler(detectionService, ws, &cfg.App, log)

	router, err := newRouter(h, log)
	if err != nil {
		return nil, err
	}

	server := &Server{
		httpServer: &http.Server{
			Addr:           cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		detector: det,
		cfg:      cfg,
		log:      log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("upload_dir", cfg.App.UploadDir),
		zap.String("predictions_dir", cfg.App.PredictionsDir),
		zap.String("backend", cfg.Detector.Backend))

	return server, nil
}

func newRouter(h *handler.Handler, log *zap.Logger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	tmpl, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	static, err := fs.Sub(web.Static, "static")
	if err != nil {
		return nil, err
	}
	router.StaticFS("/static", http.FS(static))

	router.GET("/", h.GetUI)
	router.GET("/health", h.HealthCheck)
	router.POST("/upload", h.UploadImage)
	router.GET("/uploads/:filename", h.UploadedFile)
	router.GET("/predictions", h.PredictedFile)

	api := router.Group("/api")
	{
		api.GET("/results/:id", h.GetResult)
	}

	return router, nil
}

func (s *Server) Run() error {
	s.log.Info("Server is running",
		zap.String("host", s.cfg.Server.Host),
		zap.String("port", s.cfg.Server.Port),
		zap.String("address", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.detector.Close(); cerr != nil {
		s.log.Error("Failed to close detector", zap.Error(cerr))
	}
	return err
}
