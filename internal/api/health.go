package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"services": map[string]bool{
			"ai":      s.aiSvc != nil,
			"rss":     s.rssSvc != nil && s.rssSvc.IsConfigured(),
			"monitor": s.monitorSvc != nil,
		},
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	status := s.monitorSvc.GetStatus()
	return c.JSON(http.StatusOK, map[string]any{
		"userId":          userID(c),
		"monitorRunning":  status.Running,
		"streamClients":   s.monitorSvc.Hub().Count(),
		"wsClients":       s.hub.count(),
		"providers":       s.registry.ListConfigured(),
	})
}
