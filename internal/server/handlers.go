package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"scanlens/internal/journal"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleFrontendPlaceholder(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Frontend build not found. Set scanlens.server.frontend_dir to a built frontend directory.",
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	list, err := s.svc.List()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap, err := s.svc.Snapshot(c.Param("run_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleEvents(c *gin.Context) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", s.cfg.DefaultPageSize)
	if !ok {
		return
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	page, err := s.svc.Page(c.Param("run_id"), offset, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleVulnerabilities(c *gin.Context) {
	findings, err := s.svc.Findings(c.Param("run_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, findings)
}

// queryInt reads an integer query parameter, writing a 400 when it is not one.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": name + " must be an integer"})
		return 0, false
	}
	return v, true
}

func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, journal.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "events.jsonl missing for run"})
		return
	}
	s.log.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
}
