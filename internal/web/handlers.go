package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// CountRequest is the body of POST /api/count
type CountRequest struct {
	SourceID string `json:"source_id"`
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)
	state := s.counter.State()
	mc := s.counter.ModelConfig()

	var sources []string
	if s.sources != nil {
		sources = s.sources.IDs()
	}

	c.JSON(http.StatusOK, gin.H{
		"state":          state,
		"ready":          state.Serving(),
		"stats":          s.counter.Stats(),
		"sources":        sources,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"model": gin.H{
			"path":                 mc.ModelPath,
			"backend":              mc.Backend,
			"device":               mc.Device,
			"confidence_threshold": mc.ConfidenceThreshold,
		},
	})
}

// handleCount runs one inference for the requested source
func (s *Server) handleCount(c *gin.Context) {
	var req CountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"message": err.Error(),
			})
			return
		}
	}
	if req.SourceID == "" {
		req.SourceID = c.Query("source_id")
	}
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": coordinator.ErrSourceIDRequired.Error()})
		return
	}

	result, err := s.counter.Count(c.Request.Context(), req.SourceID)
	if err != nil {
		s.writeCountError(c, req.SourceID, err)
		return
	}

	c.JSON(http.StatusOK, result.Snapshot())
}

func (s *Server) writeCountError(c *gin.Context, sourceID string, err error) {
	status := statusForError(err)
	body := gin.H{
		"error":     err.Error(),
		"source_id": sourceID,
	}
	if kind, ok := detection.KindOf(err); ok {
		body["kind"] = kind
	}
	if status >= http.StatusInternalServerError {
		s.LogWarn("Count request failed", "source_id", sourceID, "status", status, "error", err)
	}
	c.JSON(status, body)
}

// statusForError maps the coordinator error taxonomy onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrSourceIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, detection.ErrNotReady), errors.Is(err, detection.ErrModelLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, detection.ErrConcurrentRequest):
		return http.StatusConflict
	case errors.Is(err, detection.ErrImageAcquisition):
		return http.StatusBadGateway
	case errors.Is(err, detection.ErrImageDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleGetCount returns the latest count, zero before the first inference
func (s *Server) handleGetCount(c *gin.Context) {
	resp := gin.H{
		"count": s.counter.CurrentCount(),
		"state": s.counter.State(),
	}
	if t, ok := s.counter.LastDetectionTime(); ok {
		resp["last_detection"] = t.Format(time.RFC3339)
	} else {
		resp["last_detection"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetImage serves the latest annotated JPEG
func (s *Server) handleGetImage(c *gin.Context) {
	img, ok := s.counter.CurrentImage()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No image available"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", img)
}

// handleGetLastDetection returns the time of the latest inference
func (s *Server) handleGetLastDetection(c *gin.Context) {
	t, ok := s.counter.LastDetectionTime()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No detection yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_detection": t.Format(time.RFC3339)})
}

// handleGetResult returns the full latest result without the image
func (s *Server) handleGetResult(c *gin.Context) {
	r := s.counter.Current()
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No result available"})
		return
	}
	c.JSON(http.StatusOK, r.Snapshot())
}
