package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nicklaw5/helix/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JasonSowers/twitch-pubsub/internal/app"
	"github.com/JasonSowers/twitch-pubsub/internal/config"
	"github.com/JasonSowers/twitch-pubsub/internal/domain"
)

// Server exposes the reward-management API, health, and metrics endpoints.
type Server struct {
	echo   *echo.Echo
	config *config.Config
	app    appService
	pool   *pgxpool.Pool
	rdb    *goredis.Client
}

// appService is the slice of the application service the handlers use.
type appService interface {
	Onboard(ctx context.Context, p app.OnboardParams) (*domain.Broadcaster, error)
	Offboard(ctx context.Context, channelID string) error
	ListRewards(ctx context.Context, channelID string) ([]helix.ChannelCustomReward, error)
}

func NewServer(cfg *config.Config, svc appService, pool *pgxpool.Pool, rdb *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	srv := &Server{
		echo:   e,
		config: cfg,
		app:    svc,
		pool:   pool,
		rdb:    rdb,
	}

	e.POST("/api/channels", srv.handleOnboard)
	e.DELETE("/api/channels/:channel_id", srv.handleOffboard)
	e.GET("/api/channels/:channel_id/rewards", srv.handleListRewards)
	e.GET("/healthz", srv.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
