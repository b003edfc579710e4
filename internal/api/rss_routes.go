package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/relaywatch/internal/apperr"
)

// registerRSSRoutes binds the RSS surface named in §6; every handler
// defers to rssSvc.IsConfigured(), which the Stub always reports false
// for (§1's Non-goals exclude a real feed-polling collaborator).
func registerRSSRoutes(g *echo.Group, s *Server) {
	r := g.Group("/rss")

	r.GET("/subscriptions", s.handleListRSSSubscriptions)
	r.POST("/subscriptions", s.handleAddRSSSubscription)
	r.DELETE("/subscriptions/:id", s.handleRemoveRSSSubscription)
	r.POST("/validate", s.handleValidateRSSFeed)
}

func (s *Server) handleListRSSSubscriptions(c echo.Context) error {
	if !s.rssSvc.IsConfigured() {
		return c.JSON(http.StatusOK, map[string]any{"configured": false, "subscriptions": []any{}})
	}
	subs, err := s.rssSvc.ListSubscriptions(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"configured": true, "subscriptions": subs})
}

type addRSSRequest struct {
	FeedURL string `json:"feedUrl"`
}

func (s *Server) handleAddRSSSubscription(c echo.Context) error {
	if !s.rssSvc.IsConfigured() {
		return c.JSON(http.StatusOK, map[string]bool{"configured": false})
	}
	var req addRSSRequest
	if err := c.Bind(&req); err != nil || req.FeedURL == "" {
		return apperr.ErrInvalidArgument
	}
	if err := s.rssSvc.AddSubscription(c.Request().Context(), userID(c), req.FeedURL); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRemoveRSSSubscription(c echo.Context) error {
	if !s.rssSvc.IsConfigured() {
		return c.JSON(http.StatusOK, map[string]bool{"configured": false})
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperr.ErrInvalidArgument
	}
	if err := s.rssSvc.RemoveSubscription(c.Request().Context(), userID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleValidateRSSFeed(c echo.Context) error {
	if !s.rssSvc.IsConfigured() {
		return c.JSON(http.StatusOK, map[string]bool{"configured": false, "valid": false})
	}
	var req addRSSRequest
	if err := c.Bind(&req); err != nil || req.FeedURL == "" {
		return apperr.ErrInvalidArgument
	}
	valid, err := s.rssSvc.ValidateFeed(c.Request().Context(), req.FeedURL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"configured": true, "valid": valid})
}
