package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// fallbackHandler handles every unmatched request: websocket upgrades go to
// chat, unknown API paths get a JSON 404 and anything else is served from the
// static directory with index.html as the single-page-app fallback.
func fallbackHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Chat != nil && websocket.IsWebSocketUpgrade(c.Request) {
			s.Chat.ServeHTTP(c.Writer, c.Request)
			c.Abort()
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		if s.StaticDir == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		if p := staticPath(s.StaticDir, c.Request.URL.Path); p != "" {
			c.File(p)
			return
		}
		index := filepath.Join(s.StaticDir, "index.html")
		if fileExists(index) {
			c.File(index)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	}
}

// staticPath maps a URL path into dir. It returns "" unless the result is a
// regular file inside dir.
func staticPath(dir, urlPath string) string {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		return ""
	}
	p := filepath.Join(dir, filepath.FromSlash(clean))
	if !fileExists(p) {
		return ""
	}
	return p
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
