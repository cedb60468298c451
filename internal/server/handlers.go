package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JasonSowers/twitch-pubsub/internal/app"
	"github.com/JasonSowers/twitch-pubsub/internal/domain"
	"github.com/JasonSowers/twitch-pubsub/internal/twitch"
)

type onboardRequest struct {
	ChannelID    string `json:"channel_id"`
	RefreshToken string `json:"refresh_token"`
	Title        string `json:"title"`
	Prompt       string `json:"prompt"`
	Cost         int    `json:"cost"`
}

type onboardResponse struct {
	ChannelID string `json:"channel_id"`
	RewardID  string `json:"reward_id"`
}

type rewardResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
	Cost   int    `json:"cost"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleOnboard(c echo.Context) error {
	var req onboardRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.ChannelID == "" || req.RefreshToken == "" || req.Title == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "channel_id, refresh_token and title are required"})
	}
	if req.Cost <= 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "cost must be positive"})
	}

	b, err := s.app.Onboard(c.Request().Context(), app.OnboardParams{
		ChannelID:    req.ChannelID,
		RefreshToken: req.RefreshToken,
		Title:        req.Title,
		Prompt:       req.Prompt,
		Cost:         req.Cost,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, onboardResponse{ChannelID: b.ChannelID, RewardID: b.RewardID})
}

func (s *Server) handleOffboard(c echo.Context) error {
	channelID := c.Param("channel_id")
	if err := s.app.Offboard(c.Request().Context(), channelID); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListRewards(c echo.Context) error {
	channelID := c.Param("channel_id")
	rewards, err := s.app.ListRewards(c.Request().Context(), channelID)
	if err != nil {
		return s.writeError(c, err)
	}

	out := make([]rewardResponse, len(rewards))
	for i, r := range rewards {
		out[i] = rewardResponse{ID: r.ID, Title: r.Title, Prompt: r.Prompt, Cost: r.Cost}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "redis": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps service errors to HTTP responses. Token grant problems are
// the caller's to fix, everything else is a plain failure.
func (s *Server) writeError(c echo.Context, err error) error {
	var tokenErr *twitch.TokenRefreshError

	switch {
	case errors.Is(err, domain.ErrBroadcasterNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "channel not found"})
	case errors.Is(err, domain.ErrRewardTitleTaken), errors.Is(err, domain.ErrAlreadyOnboarded):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &tokenErr) && tokenErr.Revoked:
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "token grant rejected"})
	default:
		slog.Error("Request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
