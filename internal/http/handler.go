package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-service/internal/camera"
	"gate-service/internal/domain/access"
	"gate-service/internal/identity"
	"gate-service/internal/service"
	"gate-service/internal/status"
)

const maxImageBytes = 10 << 20

// Previewer streams live frames between sessions.
type Previewer interface {
	Preview(ctx context.Context, interval time.Duration, emit func(camera.Frame) error) error
}

type Handler struct {
	vehicleService *service.VehicleService
	reviewService  *service.ReviewService
	surface        *status.Surface
	images         identity.Store
	preview        Previewer
	previewFPS     int
	log            zerolog.Logger
}

func NewHandler(
	vehicleService *service.VehicleService,
	reviewService *service.ReviewService,
	surface *status.Surface,
	images identity.Store,
	preview Previewer,
	previewFPS int,
	log zerolog.Logger,
) *Handler {
	if previewFPS <= 0 {
		previewFPS = 10
	}
	return &Handler{
		vehicleService: vehicleService,
		reviewService:  reviewService,
		surface:        surface,
		images:         images,
		preview:        preview,
		previewFPS:     previewFPS,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Endpoints polled by the gate display
	r.GET("/check_status", h.checkStatus)
	r.GET("/video_feed", h.videoFeed)
	r.GET(status.ImagePrefix+":corpus/:key", h.serveImage)
	r.GET("/healthz", h.health)

	public := r.Group("/api/v1")
	{
		public.GET("/status", h.getStatus)
		public.GET("/status/ws", h.streamStatus)
		public.GET("/events", h.listEvents)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/vehicles", h.registerVehicle)
		protected.GET("/vehicles", h.listVehicles)
		protected.GET("/vehicles/:plate", h.getVehicle)
		protected.GET("/vehicles/:plate/image", h.vehicleImage)
		protected.GET("/unrecognized", h.listUnrecognized)
		protected.DELETE("/unrecognized/:key", h.discardUnrecognized)
		protected.POST("/unrecognized/:key/promote", h.promoteUnrecognized)
	}
}

// checkStatus returns the bare snapshot for display clients that poll.
func (h *Handler) checkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.surface.Current())
}

func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.surface.Current()))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"phase":       h.surface.Current().Status,
		"subscribers": h.surface.Subscribers(),
	})
}

// serveImage serves the corpora that status snapshots link to. Owners'
// reference photos are keyed by plate and only reachable through vehicleImage.
func (h *Handler) serveImage(c *gin.Context) {
	corpus := access.Corpus(c.Param("corpus"))
	switch corpus {
	case access.CorpusCaptured, access.CorpusUnrecognized, access.CorpusTemp:
	default:
		c.JSON(http.StatusNotFound, errorResponse("unknown corpus"))
		return
	}
	h.writeImage(c, corpus, c.Param("key"))
}

func (h *Handler) vehicleImage(c *gin.Context) {
	vehicle, err := h.vehicleService.FindVehicle(c.Request.Context(), c.Param("plate"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.writeImage(c, access.CorpusRegistered, vehicle.ImageKey)
}

func (h *Handler) writeImage(c *gin.Context, corpus access.Corpus, key string) {
	rec, err := h.images.Lookup(c.Request.Context(), corpus, key)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNotFound):
			c.JSON(http.StatusNotFound, errorResponse("image not found"))
		case errors.Is(err, identity.ErrInvalidKey):
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		default:
			h.log.Error().Err(err).Str("corpus", string(corpus)).Msg("failed to load image")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		}
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, http.DetectContentType(rec.Image), rec.Image)
}

func (h *Handler) registerVehicle(c *gin.Context) {
	plate := strings.TrimSpace(c.PostForm("plate"))
	owner := strings.TrimSpace(c.PostForm("owner_name"))

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return
	}
	if file.Size > maxImageBytes {
		c.JSON(http.StatusBadRequest, errorResponse("image is too large"))
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("cannot read image"))
		return
	}
	defer f.Close()
	image, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("cannot read image"))
		return
	}

	vehicle, err := h.vehicleService.Register(c.Request.Context(), plate, owner, image)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.log.Info().Str("plate", vehicle.Plate).Str("by", c.GetString(subjectKey)).Msg("vehicle registered over api")

	c.JSON(http.StatusCreated, successResponse(vehicle))
}

func (h *Handler) listVehicles(c *gin.Context) {
	limit, offset := pageParams(c)
	vehicles, err := h.vehicleService.ListVehicles(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicles))
}

func (h *Handler) getVehicle(c *gin.Context) {
	vehicle, err := h.vehicleService.FindVehicle(c.Request.Context(), c.Param("plate"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicle))
}

func (h *Handler) listEvents(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit, offset := pageParams(c)

	events, err := h.vehicleService.FindEvents(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) listUnrecognized(c *gin.Context) {
	items, err := h.reviewService.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(items))
}

func (h *Handler) discardUnrecognized(c *gin.Context) {
	if err := h.reviewService.Discard(c.Request.Context(), c.Param("key")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) promoteUnrecognized(c *gin.Context) {
	key, err := h.reviewService.Promote(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{
		"key":       key,
		"image_url": status.ImageURL(access.CorpusCaptured, key),
	}))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func pageParams(c *gin.Context) (int, int) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
