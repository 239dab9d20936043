package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/export"
	"github.com/rootsploit/voyage/internal/progress"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/version"
)

const maxPageSize = 1000

// snapshot is the progress payload served to clients
type snapshot struct {
	progress.Snapshot
	Paused  bool    `json:"paused"`
	Percent float64 `json:"percent"`
}

func (s *Server) snapshotView(tracker *progress.Tracker, pause *control.Pause) snapshot {
	snap := tracker.Snapshot()
	return snapshot{Snapshot: snap, Paused: pause.Paused(), Percent: snap.Percent()}
}

// healthCheck returns server health status
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// getVersion returns version information
func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"commit":    version.Commit,
		"buildDate": version.BuildDate,
	})
}

// getScan returns the scan record
func (s *Server) getScan(c *gin.Context) {
	scan, err := s.store.GetScan(c.Request.Context(), s.scanID)
	if errors.Is(err, storage.ErrScanNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, scan)
}

// getProgress returns the latest progress snapshot
func (s *Server) getProgress(c *gin.Context) {
	tracker, pause := s.attached()
	c.JSON(http.StatusOK, s.snapshotView(tracker, pause))
}

// getResults downloads found subdomains as csv, text or json
func (s *Server) getResults(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatCSV)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.store.FoundResults(c.Request.Context(), s.scanID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, results); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed: " + err.Error()})
		return
	}

	contentType := "text/plain; charset=utf-8"
	switch format {
	case export.FormatCSV:
		contentType = "text/csv"
	case export.FormatJSON:
		contentType = "application/json"
	}
	filename := fmt.Sprintf("voyage_%s.%s", s.scanID, format.Extension())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// listCandidates pages through the queue table, optionally filtered by status
func (s *Server) listCandidates(c *gin.Context) {
	status := storage.CandidateStatus(c.Query("status"))
	switch status {
	case "", storage.CandidateQueued, storage.CandidateScanning, storage.CandidateFound, storage.CandidateNotFound:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(string(status))})
		return
	}
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	items, err := s.store.ListCandidates(c.Request.Context(), s.scanID, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": items, "limit": limit, "offset": offset})
}

// getLogs returns recent scan log entries at or above ?level=
func (s *Server) getLogs(c *gin.Context) {
	limit, _, ok := page(c)
	if !ok {
		return
	}
	level := storage.ParseLevel(c.DefaultQuery("level", string(storage.LevelDebug)))
	logs, err := s.store.RecentLogs(c.Request.Context(), s.scanID, level, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func page(c *gin.Context) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxPageSize)})
		return 0, 0, false
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return 0, 0, false
	}
	return limit, offset, true
}

// pauseScan stops workers from claiming new candidates
func (s *Server) pauseScan(c *gin.Context) {
	_, pause := s.attached()
	pause.Pause()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scan paused",
		"scan_id": s.scanID,
		"paused":  true,
	})
}

// resumeScan lets workers claim again
func (s *Server) resumeScan(c *gin.Context) {
	_, pause := s.attached()
	pause.Resume()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scan resumed",
		"scan_id": s.scanID,
		"paused":  false,
	})
}

// quitObserver ends Observe; workers keep running unless configured to stop
func (s *Server) quitObserver(c *gin.Context) {
	s.Quit()
	c.JSON(http.StatusOK, gin.H{"message": "Observer closing"})
}
