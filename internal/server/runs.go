package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/rsbuf"
)

// handleRunEvents replays a run's buffered progress chunks. Late joiners read
// everything after ?since=<entry_id> (or from the beginning without it);
// ?tail=<n> returns only the n most recent entries instead.
func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("run_id")
	ctx := c.Request.Context()

	if tail := c.Query("tail"); tail != "" {
		n, err := strconv.ParseInt(tail, 10, 64)
		if err != nil || n <= 0 {
			respondError(c, apperr.New(apperr.KindValidation, "tail must be a positive integer"))
			return
		}
		entries, err := s.runlog.Tail(ctx, runID, n)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, runEventsResponse(runID, entries))
		return
	}

	entries, err := s.runlog.Backfill(ctx, runID, c.Query("since"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runEventsResponse(runID, entries))
}

// handleRunEventsDelete drops a run's buffered chunks once no client needs
// the replay anymore.
func (s *Server) handleRunEventsDelete(c *gin.Context) {
	runID := c.Param("run_id")
	if err := s.runlog.Delete(c.Request.Context(), runID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "deleted": true})
}

func runEventsResponse(runID string, entries []rsbuf.Entry) gin.H {
	events := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		events = append(events, gin.H{"id": e.ID, "data": e.Data})
	}
	return gin.H{"run_id": runID, "events": events}
}
