package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/gembridge/gembridge/internal/json"
	"github.com/gembridge/gembridge/internal/logging"
	"github.com/gembridge/gembridge/internal/upstream"
)

func errorBody(message, errType string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": errType}}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListModels returns the known Gemini-dialect model names.
func (s *Server) handleListModels(c *gin.Context) {
	names := s.svc.Models().GeminiModels()
	models := make([]gin.H, 0, len(names))
	for _, name := range names {
		models = append(models, gin.H{
			"name":                       "models/" + name,
			"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// handleGenerate dispatches POST /v1beta/models/<model>:<verb>.
func (s *Server) handleGenerate(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	model, verb, ok := strings.Cut(action, ":")
	if !ok || model == "" {
		c.JSON(http.StatusNotFound, errorBody("expected models/<model>:<method>", "not_found"))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("failed to read request body", "invalid_request"))
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, errorBody("request body is not valid JSON", "invalid_request"))
		return
	}

	// The model arrives in the URL, not the body. Fold it in so the
	// audit trail's first stage is self-contained.
	if folded, err := sjson.SetBytes(body, "model", model); err == nil {
		body = folded
	}

	switch verb {
	case "generateContent":
		s.generate(c, model, body)
	case "streamGenerateContent":
		s.streamGenerate(c, model, body)
	default:
		c.JSON(http.StatusNotFound, errorBody("unknown method "+verb, "not_found"))
	}
}

func (s *Server) generate(c *gin.Context, model string, body []byte) {
	correlationID := uuid.NewString()

	out, err := s.svc.GenerateContent(c.Request.Context(), model, body, correlationID)
	if err != nil {
		status, payload := mapServiceError(err)
		c.JSON(status, payload)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func (s *Server) streamGenerate(c *gin.Context, model string, body []byte) {
	correlationID := uuid.NewString()

	chunks, err := s.svc.StreamGenerateContent(c.Request.Context(), model, body, correlationID)
	if err != nil {
		status, payload := mapServiceError(err)
		c.JSON(status, payload)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, canFlush := c.Writer.(http.Flusher)

	for chunk := range chunks {
		data := chunk.Data
		if chunk.Err != nil {
			// Errors after the stream opened are delivered in-band.
			frame, err := json.Marshal(errorBody(chunk.Err.Error(), "internal_error"))
			if err != nil {
				continue
			}
			data = frame
		}
		if _, err := c.Writer.Write(formatSSE(data)); err != nil {
			logging.WithError(err).Debugf("Client disconnected mid-stream")
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// handleAuditQuery returns the recorded pipeline stages for one request,
// in recording order. Payloads come back as strings since every stage
// records either JSON or an error message.
func (s *Server) handleAuditQuery(c *gin.Context) {
	correlationID := c.Param("correlationID")

	entries, err := s.auditBackend.QueryByCorrelation(c.Request.Context(), correlationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("failed to query audit entries", "internal_error"))
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"stage":       e.Stage,
			"endpoint":    e.Endpoint,
			"description": e.Description,
			"payload":     string(e.Payload),
			"recordedAt":  e.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{"correlationId": correlationID, "entries": out})
}

func formatSSE(data []byte) []byte {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame
}

// mapServiceError translates pipeline errors into HTTP responses.
// Upstream API failures keep their status code so clients can react to
// rate limits and auth errors.
func mapServiceError(err error) (int, gin.H) {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, errorBody(apiErr.Body, "upstream_error")
	}
	return http.StatusInternalServerError, errorBody(err.Error(), "internal_error")
}
