package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/prompt"
	"github.com/hrygo/relaywatch/internal/store"
)

// catalogRoutes binds the 14 externally-addressable job ids from §4.6
// to their dedicated route; chat/chat_summary/chat_notes are
// orchestration-internal and never exposed directly.
var catalogRoutes = map[string]prompt.JobID{
	"analyze":            prompt.JobAnalysis,
	"summarize":          prompt.JobSummarize,
	"translate":          prompt.JobTranslate,
	"language-learning":  prompt.JobLanguageLearning,
	"research":           prompt.JobResearch,
	"categorize":         prompt.JobCategorize,
	"extract":            prompt.JobExtract,
	"sentiment":          prompt.JobSentiment,
	"filter-match":       prompt.JobSmartFilterMatch,
	"digest":             prompt.JobDigest,
	"rank":               prompt.JobRankRelevance,
	"tool-plan":          prompt.JobCodingToolUse,
	"function-call":      prompt.JobFunctionCall,
	"skill-call":         prompt.JobClaudeSkill,
}

func registerAIRoutes(g *echo.Group, s *Server) {
	ai := g.Group("/ai")

	ai.GET("/settings", s.handleGetAISettings)
	ai.PUT("/settings", s.handlePutAISettings)
	ai.GET("/providers", s.handleListProviders)
	ai.GET("/models", s.handleListModels)

	ai.POST("/chat", s.handleChat)
	ai.POST("/chat/stream", s.handleChatStream)

	for route, jobID := range catalogRoutes {
		jobID := jobID
		ai.POST("/"+route, func(c echo.Context) error { return s.runJobRequest(c, jobID) })
	}
	ai.POST("/jobs/:id", s.handleGenericJob)

	ai.GET("/chats", s.handleListChats)
	ai.POST("/chats", s.handleCreateChat)
	ai.GET("/chats/:id", s.handleGetChat)
	ai.PUT("/chats/:id", s.handleSwitchChat)
	ai.DELETE("/chats/:id/messages", s.handleClearChatMessages)
	ai.POST("/chats/:id/export", s.handleExportChat)
}

type aiSettingsPayload struct {
	ProviderKey string `json:"provider"`
	ModelID     string `json:"model"`
}

func (s *Server) handleGetAISettings(c echo.Context) error {
	settings, err := s.store.GetAISettings(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	if settings == nil {
		return c.JSON(http.StatusOK, aiSettingsPayload{})
	}
	return c.JSON(http.StatusOK, aiSettingsPayload{ProviderKey: settings.ProviderKey, ModelID: settings.ModelID})
}

func (s *Server) handlePutAISettings(c echo.Context) error {
	var payload aiSettingsPayload
	if err := c.Bind(&payload); err != nil {
		return apperr.ErrInvalidArgument
	}
	if _, ok := s.registry.Get(payload.ProviderKey); !ok {
		return apperr.ErrInvalidArgument
	}
	if err := s.store.UpsertAISettings(c.Request().Context(), userID(c), payload.ProviderKey, payload.ModelID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *Server) handleListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"configured": s.registry.ListConfigured()})
}

func (s *Server) handleListModels(c echo.Context) error {
	key := c.QueryParam("provider")
	models, err := s.registry.FetchModels(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return apperr.ErrInvalidArgument
	}
	result, err := s.aiSvc.Chat(c.Request().Context(), userID(c), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// handleChatStream relays provider.StreamEvent tokens as Server-Sent
// Events, grounded on §4.9's "SSE for chat/stream, WS for monitor" split.
func (s *Server) handleChatStream(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return apperr.ErrInvalidArgument
	}

	events, err := s.aiSvc.ChatStream(c.Request().Context(), userID(c), req.Message)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().WriteHeader(http.StatusOK)

	if err := writeSSENamedEvent(c, "meta", map[string]string{"userId": userID(c)}); err != nil {
		return nil
	}

	for event := range events {
		if err := writeSSEEvent(c, event); err != nil {
			return nil
		}
		if event.Done || event.Err != nil {
			break
		}
	}
	return nil
}

func (s *Server) handleGenericJob(c echo.Context) error {
	id := prompt.JobID(c.Param("id"))
	return s.runJobRequest(c, id)
}

func (s *Server) runJobRequest(c echo.Context, jobID prompt.JobID) error {
	var payload map[string]any
	if err := c.Bind(&payload); err != nil {
		return apperr.ErrInvalidArgument
	}
	output, err := s.aiSvc.RunJob(c.Request().Context(), jobID, payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"output": output})
}

func (s *Server) handleListChats(c echo.Context) error {
	chats, err := s.store.ListChats(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chats)
}

func (s *Server) handleCreateChat(c echo.Context) error {
	var payload struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&payload); err != nil {
		return apperr.ErrInvalidArgument
	}
	if payload.Title == "" {
		payload.Title = store.PlaceholderChatTitle
	}
	chat, err := s.store.CreateChat(c.Request().Context(), userID(c), payload.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, chat)
}

func (s *Server) handleGetChat(c echo.Context) error {
	id, err := parseChatID(c)
	if err != nil {
		return err
	}
	chat, err := s.store.GetChat(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if chat == nil || chat.UserID != userID(c) {
		return apperr.ErrNotFound
	}
	return c.JSON(http.StatusOK, chat)
}

func (s *Server) handleSwitchChat(c echo.Context) error {
	id, err := parseChatID(c)
	if err != nil {
		return err
	}
	if err := s.store.SetActiveChat(c.Request().Context(), userID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearChatMessages(c echo.Context) error {
	id, err := parseChatID(c)
	if err != nil {
		return err
	}
	if err := s.store.ClearMessages(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleExportChat(c echo.Context) error {
	id, err := parseChatID(c)
	if err != nil {
		return err
	}
	result, err := s.aiSvc.ExportChat(c.Request().Context(), userID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
