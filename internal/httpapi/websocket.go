package httpapi

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// upgrader accepts the userscript's duplex connection. Origin checking is
// left permissive: the userscript runs inside the arena site's own origin,
// which the bridge has no fixed value for across deployments.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Duplex handles GET /ws, upgrading the connection and handing it to the
// multiplexer. Exactly one browser connection is meaningful at a time; a
// new one replaces the old.
func (s *Server) Duplex(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		abortWithError(c, errors.Wrap(err, "upgrade duplex socket"))
		return
	}
	gmw.GetLogger(c).Info("browser duplex connection established")
	s.Deps.Hub.Attach(c.Request.Context(), conn)
	gmw.GetLogger(c).Info("browser duplex connection closed", zap.String("remote", conn.RemoteAddr().String()))
}
