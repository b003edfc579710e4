package api

import (
	"encoding/json"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/provider"
)

// writeSSENamedEvent writes one named SSE frame (`event:` + `data:`)
// and flushes immediately so the client observes tokens as they arrive
// rather than buffered, per §6's "event:meta / event:chunk / terminal
// event:done or event:error" contract.
func writeSSENamedEvent(c echo.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("event: " + name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// writeSSEEvent translates one provider.StreamEvent into the matching
// named SSE frame.
func writeSSEEvent(c echo.Context, event provider.StreamEvent) error {
	switch {
	case event.Err != nil:
		return writeSSENamedEvent(c, "error", map[string]string{"error": event.Err.Error()})
	case event.Done:
		return writeSSENamedEvent(c, "done", map[string]string{"content": event.Content})
	default:
		return writeSSENamedEvent(c, "chunk", map[string]string{"token": event.Token})
	}
}

func parseChatID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperr.ErrInvalidArgument
	}
	return id, nil
}
