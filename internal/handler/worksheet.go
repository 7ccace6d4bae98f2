package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/model"
	"oa-worksheets/internal/service"
	"oa-worksheets/internal/storage"
	"oa-worksheets/internal/utils"
	"oa-worksheets/internal/versiontree"
	"oa-worksheets/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WorksheetHandler struct {
	generator     *service.Generator
	worksheets    *service.WorksheetService
	delimiter     string
	streamTimeout time.Duration
	keepAlive     time.Duration
}

func NewWorksheetHandler(generator *service.Generator, worksheets *service.WorksheetService, server config.ServerConfig, delimiter string) *WorksheetHandler {
	timeout := server.StreamTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WorksheetHandler{
		generator:     generator,
		worksheets:    worksheets,
		delimiter:     delimiter,
		streamTimeout: timeout,
		keepAlive:     server.KeepAliveInterval,
	}
}

// Generate streams one generation as delimited JSON frames. Validation
// failures are answered with a plain JSON error before any frame is written.
func (h *WorksheetHandler) Generate(c *gin.Context) {
	var req model.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	req, err := h.generator.Validate(req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrParentNotFound):
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		default:
			logger.Errorf("Failed to validate generation request: %v", err)
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal error"})
		}
		return
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	log := logger.WithFields(map[string]interface{}{"request_id": requestID})

	fw := utils.NewFrameWriter(c.Writer, h.delimiter)
	c.Status(http.StatusOK)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if h.keepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sendKeepAlives(ctx, fw, stop)
		}()
	}

	v, err := h.generator.Generate(ctx, req, fw.Write)
	close(stop)
	wg.Wait()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warnf("Generation timed out after %s", h.streamTimeout)
		} else {
			log.Warnf("Generation ended with error: %v", err)
		}
		return
	}
	log.Infof("Generation stream finished for worksheet %d", v.ID)
}

func (h *WorksheetHandler) sendKeepAlives(ctx context.Context, fw *utils.FrameWriter, stop <-chan struct{}) {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := fw.Write(model.KeepAliveChunk()); err != nil {
				logger.Warnf("Keep-alive write failed: %v", err)
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *WorksheetHandler) List(c *gin.Context) {
	list, err := h.worksheets.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.WorksheetListResponse{Worksheets: list})
}

func (h *WorksheetHandler) Get(c *gin.Context) {
	v, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v)
}

// Tree returns the worksheet's thread flattened for display, the requested
// version marked active.
func (h *WorksheetHandler) Tree(c *gin.Context) {
	v, ok := h.load(c)
	if !ok {
		return
	}
	entries := versiontree.Flatten(v.VersionTree, v.ID)
	if entries == nil {
		entries = []versiontree.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      v.ID,
		"entries": entries,
	})
}

func (h *WorksheetHandler) load(c *gin.Context) (*model.SchemaVersion, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid worksheet id"})
		return nil, false
	}

	v, err := h.worksheets.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrWorksheetNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Error: err.Error()})
			return nil, false
		}
		logger.Errorf("Failed to load worksheet %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal error"})
		return nil, false
	}
	return v, true
}
