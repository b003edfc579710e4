package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/relaywatch/internal/apperr"
)

const userIDContextKey = "userID"

// authenticate implements §4.9/§6's bearer-token auth: parse
// `Authorization: Bearer <key>`, resolve it via config.ResolveUserID,
// and fail closed with 401 on any miss.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if key == "" {
			return errorResponse(c, apperr.ErrUnauthorized)
		}
		userID, ok := s.cfg.ResolveUserID(key)
		if !ok {
			return errorResponse(c, apperr.ErrUnauthorized)
		}
		c.Set(userIDContextKey, userID)
		return next(c)
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func userID(c echo.Context) string {
	v, _ := c.Get(userIDContextKey).(string)
	return v
}

// requestLogger attaches a stable request id (from middleware.RequestID)
// and logs method/path/status/duration/userId on completion, per §4.9.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.Info("http request",
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
			"user_id", userID(c),
		)
		return nil
	}
}

// errorHandler implements §4.9/§7's error policy: classify via
// apperr.HTTPStatus and always respond {error:<message>}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if httpErr, ok := err.(*echo.HTTPError); ok {
		_ = c.JSON(httpErr.Code, map[string]any{"error": httpErr.Message})
		return
	}
	_ = errorResponse(c, err)
}

func errorResponse(c echo.Context, err error) error {
	status := apperr.HTTPStatus(err)
	message := "Unauthorized"
	if status != http.StatusUnauthorized {
		message = err.Error()
	}
	return c.JSON(status, map[string]any{"error": message})
}
