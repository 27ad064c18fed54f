package httpapi

import (
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/metrics"
	"github.com/arenabridge/chat-bridge/internal/orchestrator"
)

// Server bundles the shared dependencies every handler closes over, as
// an explicit AppState instead of package-level globals.
type Server struct {
	Deps *orchestrator.Deps
}

// NewRouter builds the gin engine with the bridge's full HTTP surface.
func NewRouter(deps *orchestrator.Deps) *gin.Engine {
	s := &Server{Deps: deps}

	logLevel := "info"
	if config.DebugEnabled {
		logLevel = "debug"
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel),
			gmw.WithLogger(config.Logger.Named("gin")),
		),
		requestID(),
		metrics.GinMiddleware(),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/models", s.Models)
		v1.POST("/chat/completions", s.ChatCompletions)
		v1.POST("/images/generations", s.ImagesGenerations)
	}

	r.POST("/update_models", s.UpdateModels)
	r.POST("/internal/start_id_capture", s.StartIDCapture)
	r.GET("/ws", s.Duplex)

	return r
}

// ImagesGenerations is a thin delegation stub: image generation is an
// out-of-core-scope external collaborator, so the bridge only reports
// that it isn't implemented by this component.
func (s *Server) ImagesGenerations(c *gin.Context) {
	gmw.GetLogger(c).Info("images.generations requested (out of core scope)", zap.String("path", c.Request.URL.Path))
	c.JSON(501, errorResponse("image generation is handled outside the core bridge", "not_implemented"))
}
