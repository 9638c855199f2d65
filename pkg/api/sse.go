package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/covey-team/covey/pkg/models"
)

// streamExecution handles GET /api/v1/executions/:execution_id/stream.
// The subscriber replays buffered history before live events, so a
// client connecting mid-execution sees the full picture. The stream
// always closes with either an execution_completed frame or a
// stream_error frame.
func (s *Server) streamExecution(c *gin.Context) {
	executionID := c.Param("execution_id")
	if !models.ValidExecutionID(executionID) {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	state, err := s.store.Get(c.Request.Context(), executionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeStoreUnavailable, err.Error())
		return
	}
	if state == nil {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}

	// A terminal execution is served from its durable event trail: the
	// in-memory buffer may already be evicted, and no publisher exists
	// to ever push an execution_completed frame.
	if state.Status.Terminal() {
		for i := range state.Events {
			evt := &state.Events[i]
			if err := writeSSEEvent(c.Writer, flusher, evt); err != nil {
				return
			}
			if evt.EventType == models.EventExecutionCompleted {
				return
			}
		}
		writeSSEError(c.Writer, flusher, executionID, "event trail ended without completion")
		return
	}

	sub, err := s.bus.Subscribe(executionID)
	if err != nil {
		writeSSEError(c.Writer, flusher, executionID, err.Error())
		return
	}
	defer sub.Close()

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case evt, open := <-sub.Events():
			if !open {
				// The bus shut down under the stream.
				writeSSEError(c.Writer, flusher, executionID, "event stream closed before completion")
				return
			}
			if err := writeSSEEvent(c.Writer, flusher, evt); err != nil {
				return
			}
			if evt.EventType == models.EventExecutionCompleted {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, evt *models.ExecutionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.EventType, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, executionID, message string) {
	payload, _ := json.Marshal(gin.H{"execution_id": executionID, "message": message})
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", models.EventStreamError, payload)
	flusher.Flush()
}
