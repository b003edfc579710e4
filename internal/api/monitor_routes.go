package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/store"
)

func registerMonitorRoutes(g *echo.Group, s *Server) {
	m := g.Group("/monitor")

	m.GET("/sources", s.handleListSources)
	m.POST("/sources", s.handleAddSource)
	m.DELETE("/sources/:ref", s.handleDeleteSource)
	m.POST("/sources/:ref/enable", s.handleEnableSource)
	m.POST("/sources/:ref/disable", s.handleDisableSource)

	m.GET("/filters", s.handleGetFilters)
	m.PUT("/filters", s.handlePutFilters)
	m.GET("/history", s.handleGetHistory)

	m.POST("/start", s.handleMonitorStart)
	m.POST("/stop", s.handleMonitorStop)
	m.GET("/status", s.handleMonitorStatus)

	m.PUT("/target", s.handlePutTarget)
	m.DELETE("/target", s.handleResetTarget)
	m.PUT("/forwarding", s.handlePutForwarding)
}

func (s *Server) handleListSources(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitorSvc.Sources())
}

type addSourceRequest struct {
	Ref string `json:"ref"`
}

func (s *Server) handleAddSource(c echo.Context) error {
	var req addSourceRequest
	if err := c.Bind(&req); err != nil || req.Ref == "" {
		return apperr.ErrInvalidArgument
	}
	resolved, err := s.monitorSvc.AddSource(c.Request().Context(), req.Ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"resolved": resolved})
}

func (s *Server) handleDeleteSource(c echo.Context) error {
	if err := s.monitorSvc.DeleteSource(c.Param("ref")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEnableSource(c echo.Context) error {
	s.monitorSvc.EnableSource(c.Param("ref"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDisableSource(c echo.Context) error {
	s.monitorSvc.DisableSource(c.Param("ref"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetFilters(c echo.Context) error {
	filter, err := s.store.GetMonitorFilter(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, filter)
}

func (s *Server) handlePutFilters(c echo.Context) error {
	var patch store.MonitorFilter
	if err := c.Bind(&patch); err != nil {
		return apperr.ErrInvalidArgument
	}
	if err := s.store.UpsertMonitorFilter(c.Request().Context(), userID(c), patch); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

const defaultHistoryLimit = 50

func (s *Server) handleGetHistory(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	history, err := s.store.ListMonitorHistory(c.Request().Context(), userID(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleMonitorStart(c echo.Context) error {
	if err := s.monitorSvc.Start(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMonitorStop(c echo.Context) error {
	if err := s.monitorSvc.Stop(); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMonitorStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitorSvc.GetStatus())
}

type targetRequest struct {
	Ref string `json:"ref"`
}

func (s *Server) handlePutTarget(c echo.Context) error {
	var req targetRequest
	if err := c.Bind(&req); err != nil || req.Ref == "" {
		return apperr.ErrInvalidArgument
	}
	s.monitorSvc.SetTargetChannel(req.Ref)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResetTarget(c echo.Context) error {
	s.monitorSvc.ResetTargetChannel()
	return c.NoContent(http.StatusNoContent)
}

type forwardingRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handlePutForwarding(c echo.Context) error {
	var req forwardingRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ErrInvalidArgument
	}
	s.monitorSvc.SetForwarding(req.Enabled)
	return c.NoContent(http.StatusNoContent)
}
