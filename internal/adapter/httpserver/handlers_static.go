package httpserver

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/radar/internal/platform/errors"
)

const indexFile = "index.html"

func (s *Server) registerStaticRoutes(mw ...echo.MiddlewareFunc) {
	if s.config.StaticDir == "" {
		return
	}
	s.echo.GET("/*", s.handleStatic, mw...)
}

// handleRoot upgrades websocket requests and serves the client page otherwise.
func (s *Server) handleRoot(c echo.Context) error {
	if websocket.IsWebSocketUpgrade(c.Request()) {
		return s.handleWebSocket(c)
	}
	if s.config.StaticDir == "" {
		return apperrors.NotFoundError("no client is hosted here")
	}
	return s.serveFile(c, indexFile)
}

func (s *Server) handleStatic(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return apperrors.ValidationError("invalid path")
	}
	return s.serveFile(c, name)
}

func (s *Server) serveFile(c echo.Context, name string) error {
	// Clean against a rooted path so ".." cannot climb out of StaticDir.
	path := filepath.Join(s.config.StaticDir, filepath.FromSlash(filepath.Clean("/"+name)))
	if err := c.File(path); err != nil {
		return fmt.Errorf("failed to serve %s: %w", name, err)
	}
	return nil
}
