package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/storage"
)

//go:embed templates/*.html
var templates embed.FS

// Store is the read side the dashboard needs.
type Store interface {
	ListBots(ctx context.Context) ([]storage.BotConfig, error)
	LoadBotConfig(ctx context.Context, id uint) (*storage.BotConfig, error)
	RecentTrades(ctx context.Context, limit int) ([]storage.TradeRecord, error)
	RecentBotRuns(ctx context.Context, botID uint, limit int) ([]storage.BotRun, error)
}

// Controller starts and stops bots.
type Controller interface {
	Start(ctx context.Context, botID uint, secret string) error
	Stop(ctx context.Context, botID uint) error
	IsRegistered(botID uint) bool
}

type Server struct {
	httpServer *http.Server
	repo       Store
	control    Controller
	dashboard  *template.Template
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(repo Store, control Controller, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		repo:      repo,
		control:   control,
		dashboard: template.Must(template.ParseFS(templates, "templates/dashboard.html")),
		config:    cfg,
		logger:    log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/bots", s.handleBots)
	mux.HandleFunc("GET /api/bots/{id}/runs", s.handleBotRuns)
	mux.HandleFunc("POST /api/bots/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/bots/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
