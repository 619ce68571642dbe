package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/app/live"
	"github.com/pranavraj012/squatformanalysis/internal/app/orch"
	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const defaultJobsLimit = 50

type handlers struct {
	ctx     context.Context
	orch    *orch.Orchestrator
	limiter *UploadRateLimiter
}

type setModeRequest struct {
	Mode         string `json:"mode"`
	ExerciseType string `json:"exerciseType"`
}

func hostURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host + "/"
}

// exerciseHint picks the exercise from the query, then the client session.
func exerciseHint(c *gin.Context) string {
	if e := c.Query("exercise"); e != "" {
		return e
	}
	if e, ok := sessions.Default(c).Get(exerciseKey).(string); ok {
		return e
	}
	return domain.DefaultExercise
}

func rememberExercise(c *gin.Context, exercise string) {
	s := sessions.Default(c)
	s.Set(exerciseKey, exercise)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
}

func (h *handlers) modes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"modes": domain.Modes()})
}

func (h *handlers) exercises(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exercises": domain.Exercises(hostURL(c))})
}

func (h *handlers) videoFeedURL(c *gin.Context) {
	q := url.Values{"exercise": {exerciseHint(c)}}
	c.JSON(http.StatusOK, gin.H{"url": fmt.Sprintf("%svideo_feed?%s", hostURL(c), q.Encode())})
}

func (h *handlers) setMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondMessage(c, http.StatusBadRequest, "invalid json body")
		return
	}
	cfg, err := h.orch.SetMode(req.Mode, req.ExerciseType)
	if err != nil {
		respondError(c, err)
		return
	}
	rememberExercise(c, cfg.ExerciseType)
	c.JSON(http.StatusOK, gin.H{"status": "success", "mode": cfg.Mode, "exerciseType": cfg.ExerciseType})
}

func (h *handlers) startCamera(c *gin.Context) {
	exercise, err := h.orch.StartCamera(c.Request.Context(), exerciseHint(c))
	if err != nil {
		respondError(c, err)
		return
	}
	rememberExercise(c, exercise)
	c.JSON(http.StatusOK, gin.H{"status": "started", "exerciseType": exercise})
}

func (h *handlers) stopCamera(c *gin.Context) {
	if err := h.orch.StopCamera(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// videoFeed streams the live multipart sequence until the client leaves,
// the camera stops or the service shuts down.
func (h *handlers) videoFeed(c *gin.Context) {
	sid := c.GetString(clientTokenKey)
	sub, err := h.orch.Watch(c.Request.Context(), c.Query("exercise"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.orch.Leave(sub)

	logger := log.With().Str("module", "adapters.http").Str("sid", sid).Str("subscriber", sub.ID).Logger()
	logger.Info().Str("handle", sub.HandleID).Msg("video feed opened")

	c.Header("Content-Type", live.ContentType)
	c.Status(http.StatusOK)
	var ended bool
	clientGone := c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-sub.Chunks():
			if !ok {
				ended = true
				return false
			}
			_, err := w.Write(chunk)
			return err == nil
		case <-c.Request.Context().Done():
			return false
		case <-h.ctx.Done():
			return false
		}
	})

	switch {
	case ended:
		logger.Info().AnErr("reason", sub.Err()).Uint64("sent", sub.Sent()).Msg("video feed ended")
	case clientGone || c.Request.Context().Err() != nil:
		logger.Info().Err(core.ErrSubscriberDisconnected).Uint64("sent", sub.Sent()).Msg("video feed closed by client")
	default:
		logger.Info().Uint64("sent", sub.Sent()).Msg("video feed closed")
	}
}

func (h *handlers) upload(c *gin.Context) {
	if !h.limiter.Allow(c.GetString(clientTokenKey)) {
		respondMessage(c, http.StatusTooManyRequests, "too many uploads, try again later")
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		respondMessage(c, http.StatusBadRequest, "No selected file")
		return
	}

	res, err := h.orch.Upload(c.Request.Context(), orch.UploadRequest{
		Filename: header.Filename,
		Body:     file,
		Mode:     c.PostForm("mode"),
		Exercise: c.PostForm("exerciseType"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"original":     res.Original,
		"processed":    res.Processed,
		"exerciseType": res.ExerciseType,
		"jobId":        res.Job.ID,
	})
}

func (h *handlers) uploadedFile(c *gin.Context) {
	path, err := h.orch.Storage.LookupUpload(c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.File(path)
}

func (h *handlers) outputFile(c *gin.Context) {
	path, err := h.orch.Storage.LookupOutput(c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.File(path)
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Status())
}

func (h *handlers) listJobs(c *gin.Context) {
	limit := defaultJobsLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondMessage(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	jobs, err := h.orch.ListJobs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *handlers) getJob(c *gin.Context) {
	job, err := h.orch.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "progress": job.Progress()})
}

func (h *handlers) cancelJob(c *gin.Context) {
	id := c.Param("id")
	if h.orch.CancelJob(id) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "id": id})
		return
	}
	job, err := h.orch.Job(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusConflict, "job is "+string(job.Status))
}
