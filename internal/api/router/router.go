package router

import (
	"github.com/cuongbtq/imagepipe/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options holds routes served next to the API
type Options struct {
	// MediaRoot is served under MediaPrefix when set
	MediaRoot   string
	MediaPrefix string
	// Websocket handles GET /ws/images when set
	Websocket gin.HandlerFunc
	// MaxMultipartMemory caps the in-memory part of upload parsing
	MaxMultipartMemory int64
	// AllowedOrigins limits CORS; empty allows any origin
	AllowedOrigins []string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()
	if opts.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = opts.MaxMultipartMemory
	}

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	if opts.Websocket != nil {
		r.GET("/ws/images", opts.Websocket)
	}

	if opts.MediaRoot != "" {
		prefix := opts.MediaPrefix
		if prefix == "" {
			prefix = "/media"
		}
		r.Static(prefix, opts.MediaRoot)
	}

	imageHandler := handler.NewImageHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		images := v1.Group("/images")
		{
			// POST /api/v1/images - Upload an image
			images.POST("", imageHandler.UploadImage)

			// GET /api/v1/images - List images, newest first
			images.GET("", imageHandler.ListImages)

			// DELETE /api/v1/images/:id - Delete an image record
			images.DELETE("/:id", imageHandler.DeleteImage)

			// POST /api/v1/images/:id/process - Start processing an image
			images.POST("/:id/process", imageHandler.ProcessImage)

			// POST /api/v1/images/:id/replay - Duplicate an image for reprocessing
			images.POST("/:id/replay", imageHandler.ReplayImage)
		}

		// POST /api/v1/process-all - Process every pending image
		v1.POST("/process-all", imageHandler.ProcessAllImages)
	}

	return r
}
