package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"detectweb/internal/config"
	"detectweb/internal/service"
	"detectweb/pkg/utils"
)

const (
	indexTemplate = "index.html"

	// multipartOverhead is allowed on top of the file size for boundaries
	// and headers.
	multipartOverhead = 1 << 20

	MsgNoFilePart      = "No file part in the request."
	MsgNoFileSelected  = "No file selected for uploading."
	MsgFileTooLarge    = "File too large."
	MsgInvalidFormat   = "Invalid file format. Allowed: %s"
	MsgDetectionFailed = "Detection failed."
	MsgNoPrediction    = "No predicted file found."
	MsgFileNotFound    = "File not found."
)

// FileStore resolves names served back to the client.
type FileStore interface {
	UploadPath(name string) (string, error)
	PredictionPath(name string) (string, error)
}

type Handler struct {
	service service.DetectionService
	files   FileStore
	cfg     *config.AppConfig
	log     *zap.Logger
}

func NewHandler(service service.DetectionService, files FileStore, cfg *config.AppConfig, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		files:   files,
		cfg:     cfg,
		log:     log.Named("handler"),
	}
}

func (h *Handler) GetUI(c *gin.Context) {
	current, err := h.service.Current()
	if err != nil {
		h.log.Error("Failed to inspect prediction slot", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	data := gin.H{}
	if current != "" {
		data["PredictedImage"] = "/predictions"
		data["HasPrediction"] = true
	}

	c.HTML(http.StatusOK, indexTemplate, data)
}

func (h *Handler) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize+multipartOverhead)

	if err := c.Request.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, http.StatusRequestEntityTooLarge, MsgFileTooLarge)
			return
		}
		h.log.Warn("Failed to parse upload form", zap.Error(err))
		h.reject(c, http.StatusBadRequest, MsgNoFilePart)
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		// A file input left empty arrives as a part without a file name,
		// which multipart parsing files under values.
		if _, ok := c.Request.MultipartForm.Value["image"]; ok {
			h.reject(c, http.StatusBadRequest, MsgNoFileSelected)
			return
		}
		h.reject(c, http.StatusBadRequest, MsgNoFilePart)
		return
	}

	if file.Filename == "" {
		h.reject(c, http.StatusBadRequest, MsgNoFileSelected)
		return
	}

	if file.Size > h.cfg.MaxUploadSize {
		h.reject(c, http.StatusRequestEntityTooLarge, MsgFileTooLarge)
		return
	}

	if !utils.AllowedFormat(file.Filename, h.cfg.AllowedFormats) {
		h.reject(c, http.StatusBadRequest, fmt.Sprintf(MsgInvalidFormat, strings.Join(h.cfg.AllowedFormats, ", ")))
		return
	}

	src, err := file.Open()
	if err != nil {
		h.log.Error("Failed to open uploaded file", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	defer src.Close()

	result, err := h.service.Detect(c.Request.Context(), file.Filename, src)
	if err != nil {
		h.log.Error("Failed to process image",
			zap.String("filename", file.Filename),
			zap.Error(err))
		c.HTML(http.StatusInternalServerError, indexTemplate, gin.H{"Message": MsgDetectionFailed})
		return
	}

	c.HTML(http.StatusOK, indexTemplate, gin.H{
		"OriginalImage":  "/uploads/" + result.StoredName,
		"OriginalName":   result.OriginalName,
		"PredictedImage": "/predictions",
		"HasPrediction":  result.HasPrediction,
		"Count":          result.Count,
		"ResultID":       result.ID,
		"Fresh":          true,
	})
}

func (h *Handler) reject(c *gin.Context, status int, message string) {
	h.log.Info("Upload rejected", zap.String("reason", message))
	c.HTML(status, indexTemplate, gin.H{"Message": message})
}

func (h *Handler) UploadedFile(c *gin.Context) {
	path, err := h.files.UploadPath(c.Param("filename"))
	if err != nil {
		c.String(http.StatusNotFound, MsgFileNotFound)
		return
	}

	c.Header("Content-Type", utils.ContentType(path))
	c.File(path)
}

func (h *Handler) PredictedFile(c *gin.Context) {
	current, err := h.service.Current()
	if err != nil {
		h.log.Error("Failed to inspect prediction slot", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	path, err := h.files.PredictionPath(current)
	if current == "" || err != nil {
		c.String(http.StatusNotFound, MsgNoPrediction)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", utils.ContentType(path))
	c.File(path)
}

func (h *Handler) GetResult(c *gin.Context) {
	result, ok := h.service.Result(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}
