package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// listSessionsHandler handles GET /sessions: live sessions with event
// counts, most recently active first.
func (s *Server) listSessionsHandler(c *gin.Context) {
	sessions := s.store.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
		"running":  s.orch.Running(),
	})
}

// sessionEventsHandler handles GET /sessions/:id/events: the session's event
// log for reconnect replay. An optional after=<id> parameter returns only
// events past the client's last seen SSE id; an ids=<id,id,…> parameter
// returns exactly the named events instead.
func (s *Server) sessionEventsHandler(c *gin.Context) {
	id := c.Param("id")

	if raw := c.Query("ids"); raw != "" {
		var ids []int64
		for _, part := range strings.Split(raw, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "ids must be integers"})
				return
			}
			ids = append(ids, v)
		}
		evs, ok := s.store.EventsByID(id, ids)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": id,
			"events":     evs,
			"count":      len(evs),
		})
		return
	}

	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "after must be an integer"})
			return
		}
		after = v
	}

	evs, ok := s.store.EventsSince(id, after)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"events":     evs,
		"count":      len(evs),
	})
}

// sessionEventHandler handles GET /sessions/:id/events/:eventID: one event
// looked up by its id within the session.
func (s *Server) sessionEventHandler(c *gin.Context) {
	id := c.Param("id")
	evID, err := strconv.ParseInt(c.Param("eventID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "event id must be an integer"})
		return
	}

	ev, ok := s.store.Event(id, evID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown event"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// cancelSessionHandler handles POST /sessions/:id/cancel. The session's
// events stay queryable until the TTL sweep; only the run is stopped.
func (s *Server) cancelSessionHandler(c *gin.Context) {
	id := c.Param("id")
	if !s.orch.CancelSession(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}
