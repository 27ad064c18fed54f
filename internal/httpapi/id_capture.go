package httpapi

import (
	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/gin-gonic/gin"

	"github.com/arenabridge/chat-bridge/internal/wsproto"
)

// StartIDCapture handles POST /internal/start_id_capture: the external
// ID-updater tool asks the bridge to tell the browser to enter ID-capture
// mode over the duplex socket.
func (s *Server) StartIDCapture(c *gin.Context) {
	if err := s.Deps.Hub.Send(wsproto.Command{Command: wsproto.CommandActivateIDCapture}); err != nil {
		abortWithError(c, errors.Wrap(err, "send activate_id_capture command"))
		return
	}
	gmw.GetLogger(c).Info("activated browser id capture mode")
	c.JSON(200, gin.H{"status": "activated"})
}
