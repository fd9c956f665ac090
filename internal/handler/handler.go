package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/domain"
	"github.com/IotchulindraRai/photofilter/internal/service"
)

// multipart framing allowance on top of the configured upload limit.
const formOverhead = 1 << 20

type Handler struct {
	service       service.ImageService
	maxUploadSize int64
	log           *zap.Logger
}

func NewHandler(service service.ImageService, maxUploadSize int64, log *zap.Logger) *Handler {
	return &Handler{
		service:       service,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

// imageView is the JSON shape of a record. Payloads are served by their own
// endpoints.
type imageView struct {
	domain.ImageRecord
	HasFiltered bool   `json:"has_filtered"`
	OriginalURL string `json:"original_url"`
	DownloadURL string `json:"download_url,omitempty"`
}

func view(r domain.ImageRecord) imageView {
	v := imageView{
		ImageRecord: r,
		HasFiltered: r.HasFiltered(),
		OriginalURL: "/api/images/" + r.ID + "/original",
	}
	if v.HasFiltered {
		v.DownloadURL = "/api/images/" + r.ID + "/download"
	}
	return v
}

func (h *Handler) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+formOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(c, h.tooLarge())
			return
		}
		h.log.Warn("Failed to get file from form", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}

	// Reject by declared size before touching the payload.
	if file.Size > h.maxUploadSize {
		h.respondError(c, h.tooLarge())
		return
	}

	f, err := file.Open()
	if err != nil {
		h.log.Error("Failed to open file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadSize+1))
	if err != nil {
		h.log.Error("Failed to read file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}

	record, err := h.service.Upload(c.Request.Context(), domain.UploadRequest{
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Data:        data,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Image uploaded successfully",
		"image":   view(record),
	})
}

func (h *Handler) tooLarge() error {
	return &domain.ValidationError{
		Field:  "size",
		Reason: fmt.Sprintf("image size should be less than %dMB", h.maxUploadSize>>20),
	}
}

func (h *Handler) ListImages(c *gin.Context) {
	history := h.service.History(c.Request.Context())

	images := make([]imageView, 0, len(history))
	for _, r := range history {
		images = append(images, view(r))
	}

	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *Handler) GetCurrent(c *gin.Context) {
	record, ok := h.service.Current(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No image selected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": view(record)})
}

func (h *Handler) SelectCurrent(c *gin.Context) {
	record, err := h.service.SelectCurrent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": view(record)})
}

func (h *Handler) GetImage(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": view(record)})
}

func (h *Handler) GetOriginal(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, record.OriginalContentType, record.OriginalImage)
}

func (h *Handler) TransformImage(c *gin.Context) {
	record, _, err := h.service.Transform(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"image": view(record)})
}

func (h *Handler) RetryImage(c *gin.Context) {
	record, _, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"image": view(record)})
}

func (h *Handler) DownloadImage(c *gin.Context) {
	dl, err := h.service.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	c.Data(http.StatusOK, dl.ContentType, dl.Data)
}

func (h *Handler) PayImage(c *gin.Context) {
	receipt, err := h.service.Pay(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": receipt})
}

func (h *Handler) ExportImage(c *gin.Context) {
	res, err := h.service.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"export": res})
}

func (h *Handler) ListExports(c *gin.Context) {
	keys, err := h.service.ListExports(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exports": keys})
}

func (h *Handler) GetExport(c *gin.Context) {
	rc, err := h.service.OpenExport(c.Request.Context(), c.Query("key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Error("Failed to stream export", zap.Error(err))
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// respondError maps service errors to HTTP responses. Only unexpected errors
// are logged at error level.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		verr *domain.ValidationError
		perr *domain.PaymentError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
	case errors.Is(err, domain.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Image is already being processed"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotTransformed):
		c.JSON(http.StatusConflict, gin.H{"error": "Image has not been transformed yet"})
	case errors.As(err, &perr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment failed. Please try again."})
	case errors.Is(err, domain.ErrExportDisabled), errors.Is(err, domain.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
