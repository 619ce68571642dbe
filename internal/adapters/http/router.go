package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/app/orch"
	"github.com/pranavraj012/squatformanalysis/internal/config"
)

const (
	clientTokenCookie = "ct"
	clientTokenKey    = "client_token"
	sessionName       = "SquatSessions"
	exerciseKey       = "exercise"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every client a stable token, used to rate
// limit uploads and to tag log lines.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

const defaultCacheControl = "no-cache, no-store, must-revalidate"

// HeadersMiddleware applies the response headers every route carries.
// Cache-Control is filled in when the response is written, unless the
// handler already chose one.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &cacheControlWriter{ResponseWriter: c.Writer}
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// cacheControlWriter sets the default Cache-Control just before the header
// goes out.
type cacheControlWriter struct {
	gin.ResponseWriter
}

func (w *cacheControlWriter) fill() {
	if w.Written() {
		return
	}
	if h := w.Header(); h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", defaultCacheControl)
	}
}

func (w *cacheControlWriter) WriteHeader(code int) {
	w.fill()
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheControlWriter) WriteHeaderNow() {
	w.fill()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *cacheControlWriter) Write(b []byte) (int, error) {
	w.fill()
	return w.ResponseWriter.Write(b)
}

func (w *cacheControlWriter) WriteString(s string) (int, error) {
	w.fill()
	return w.ResponseWriter.WriteString(s)
}

func (w *cacheControlWriter) Flush() {
	w.fill()
	w.ResponseWriter.Flush()
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(HeadersMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{
		ctx:     ctx,
		orch:    o,
		limiter: NewUploadRateLimiter(cfg.Upload.RateLimit, cfg.Upload.RateInterval),
	}

	r.POST("/set_mode", h.setMode)
	r.GET("/start_camera", h.startCamera)
	r.GET("/stop_camera", h.stopCamera)
	r.GET("/video_feed", h.videoFeed)
	r.POST("/upload", h.upload)
	r.GET("/uploads/:filename", h.uploadedFile)
	r.GET("/outputs/:filename", h.outputFile)

	api := r.Group("/api")
	api.GET("/modes", h.modes)
	api.GET("/exercises", h.exercises)
	api.GET("/video_feed_url", h.videoFeedURL)
	api.GET("/status", h.status)
	api.GET("/jobs", h.listJobs)
	api.GET("/jobs/:id", h.getJob)
	api.POST("/jobs/:id/cancel", h.cancelJob)
	api.GET("/ws/metrics", h.metricsFeed)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
