package handler

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/imagepipe/internal/api/dto"
	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/gin-gonic/gin"
)

var supportedFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"gif":  true,
}

// UploadImage handles POST /api/v1/images
// Stores the multipart "image" file and creates a pending record
func (h *ImageHandler) UploadImage(c *gin.Context) {
	header, err := c.FormFile("image")
	if err != nil {
		h.logger.Warn("Upload without image", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "No image provided"})
		return
	}

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
			Error: fmt.Sprintf("Image exceeds %d bytes", h.maxUploadBytes),
		})
		return
	}

	file, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid upload"})
		return
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || !supportedFormats[format] {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Unsupported image format"})
		return
	}

	ref, err := h.media.SaveOriginal(header.Filename, data)
	if err != nil {
		h.logger.Error("Failed to store upload", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to store image"})
		return
	}

	img := &domain.Image{OriginalImage: ref}
	if err := h.store.Create(c.Request.Context(), img); err != nil {
		h.logger.Error("Failed to create image", slog.Any("error", err))
		if rmErr := h.media.Remove(ref); rmErr != nil {
			h.logger.Error("Failed to remove orphaned upload", slog.Any("error", rmErr))
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create image"})
		return
	}

	snap := dto.NewItemSnapshot(*img, h.media)
	h.logger.Info("Image uploaded",
		slog.Int64("image_id", img.ID),
		slog.String("format", format),
		slog.Int("size", len(data)),
	)

	c.JSON(http.StatusCreated, dto.UploadImageResponse{
		ID:            img.ID,
		Status:        string(img.Status),
		Message:       "Image uploaded successfully",
		OriginalImage: *snap.OriginalImage,
		Filename:      *snap.Filename,
	})
}

// ListImages handles GET /api/v1/images
func (h *ImageHandler) ListImages(c *gin.Context) {
	images, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list images", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list images"})
		return
	}

	c.JSON(http.StatusOK, dto.ListImagesResponse{
		Images: dto.NewItemSnapshots(images, h.media),
	})
}

// ProcessImage handles POST /api/v1/images/:id/process
func (h *ImageHandler) ProcessImage(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	img, ok := h.getImage(c, id)
	if !ok {
		return
	}

	if img.Status == domain.StatusCompleted {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Image already processed"})
		return
	}
	if img.Status == domain.StatusProcessing || h.jobs.InFlight(id) {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Image is already being processed"})
		return
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), id); err != nil {
		h.writeDispatchError(c, id, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.ProcessImageResponse{
		ID:             id,
		Status:         string(domain.StatusProcessing),
		Message:        "Image processing started",
		SimulatedDelay: h.delayHint,
	})
}

// ProcessAllImages handles POST /api/v1/process-all
// Dispatches every pending image that has no job running
func (h *ImageHandler) ProcessAllImages(c *gin.Context) {
	ctx := c.Request.Context()

	pending, err := h.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		h.logger.Error("Failed to list pending images", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list images"})
		return
	}

	ids := make([]int64, 0, len(pending))
	for _, img := range pending {
		if err := h.dispatcher.Dispatch(ctx, img.ID); err != nil {
			if errors.Is(err, domain.ErrJobInFlight) {
				continue
			}
			h.writeDispatchError(c, img.ID, err)
			return
		}
		ids = append(ids, img.ID)
	}

	h.logger.Info("Dispatched pending images",
		slog.Int("count", len(ids)),
	)

	c.JSON(http.StatusAccepted, dto.ProcessAllResponse{
		Count:          len(ids),
		ImageIDs:       ids,
		Message:        fmt.Sprintf("Started processing %d image(s)", len(ids)),
		SimulatedDelay: h.delayHint,
	})
}

// ReplayImage handles POST /api/v1/images/:id/replay
// Creates a new pending record sharing the original file
func (h *ImageHandler) ReplayImage(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	source, ok := h.getImage(c, id)
	if !ok {
		return
	}

	img := &domain.Image{OriginalImage: source.OriginalImage}
	if err := h.store.Create(c.Request.Context(), img); err != nil {
		h.logger.Error("Failed to duplicate image",
			slog.Int64("image_id", id),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to duplicate image"})
		return
	}

	h.logger.Info("Image duplicated",
		slog.Int64("source_id", id),
		slog.Int64("image_id", img.ID),
	)

	c.JSON(http.StatusCreated, dto.ReplayImageResponse{
		ID:      img.ID,
		Status:  string(img.Status),
		Message: "Image duplicated successfully",
	})
}

// DeleteImage handles DELETE /api/v1/images/:id
// Files are kept since replays share them
func (h *ImageHandler) DeleteImage(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if h.jobs.InFlight(id) {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Image is being processed"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Image not found"})
			return
		}
		h.logger.Error("Failed to delete image",
			slog.Int64("image_id", id),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to delete image"})
		return
	}

	c.JSON(http.StatusOK, dto.DeleteImageResponse{
		ID:      id,
		Message: "Image deleted successfully",
	})
}

func (h *ImageHandler) parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *ImageHandler) getImage(c *gin.Context, id int64) (*domain.Image, bool) {
	img, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Image not found"})
			return nil, false
		}
		h.logger.Error("Failed to get image",
			slog.Int64("image_id", id),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get image"})
		return nil, false
	}
	return img, true
}

func (h *ImageHandler) writeDispatchError(c *gin.Context, id int64, err error) {
	switch {
	case errors.Is(err, domain.ErrJobInFlight):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Image is already being processed"})
	case errors.Is(err, domain.ErrRunnerStopped):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Server is shutting down"})
	default:
		h.logger.Error("Failed to dispatch job",
			slog.Int64("image_id", id),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to start processing"})
	}
}
