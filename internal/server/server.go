// Package server exposes the extraction pipeline over HTTP for the
// extractd daemon.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/mbdelacruz/invoice-extract/internal/archive"
	"github.com/mbdelacruz/invoice-extract/internal/async"
	"github.com/mbdelacruz/invoice-extract/internal/extract"
	"github.com/mbdelacruz/invoice-extract/internal/imageprep"
	"github.com/mbdelacruz/invoice-extract/internal/registry"
)

type Server struct {
	logger      *slog.Logger
	orch        *extract.Orchestrator
	queue       *async.Queue
	preparer    *imageprep.Preparer
	archiver    *archive.Archiver
	db          *sqlx.DB
	merchants   registry.MerchantRepository
	stores      registry.StoreRepository
	agents      registry.AgentRepository
	maxUploadMB int64
}

func New(logger *slog.Logger, orch *extract.Orchestrator, queue *async.Queue, preparer *imageprep.Preparer, archiver *archive.Archiver, db *sqlx.DB, merchants registry.MerchantRepository, stores registry.StoreRepository, agents registry.AgentRepository, maxUploadMB int64) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 15
	}
	return &Server{
		logger:      logger,
		orch:        orch,
		queue:       queue,
		preparer:    preparer,
		archiver:    archiver,
		db:          db,
		merchants:   merchants,
		stores:      stores,
		agents:      agents,
		maxUploadMB: maxUploadMB,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = s.maxUploadMB << 20

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	v1.POST("/extract", s.handleExtract)
	v1.GET("/merchants", s.handleListMerchants)
	v1.GET("/stores", s.handleListStores)
	v1.GET("/agents", s.handleListAgents)
	return r
}

// handleExtract accepts a multipart image upload under the "image" field
// and runs the full pipeline. Extraction itself never fails; only a bad
// upload produces a non-200 here.
func (s *Server) handleExtract(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'image' is required"})
		return
	}
	if fileHeader.Size > s.maxUploadMB<<20 {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}

	img, err := s.preparer.Prepare(data)
	if err != nil {
		s.logger.Warn("server.bad_image", "filename", fileHeader.Filename, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unreadable image: " + err.Error()})
		return
	}

	// extractions run one at a time; a local model cannot serve two at once
	var result extract.Result
	err = s.queue.Submit(c.Request.Context(), func(ctx context.Context) {
		result = s.orch.Extract(ctx, extract.Request{
			Image:       img,
			Description: "upload:" + fileHeader.Filename,
		})
		s.archiver.Store(ctx, result.ID, img.Data, img.MIMEType)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "extraction queue unavailable: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := registry.HealthCheck(c.Request.Context(), s.db, 3*time.Second); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "registry": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListMerchants(c *gin.Context) {
	out, err := s.merchants.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list merchants failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchants": out})
}

func (s *Server) handleListStores(c *gin.Context) {
	out, err := s.stores.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list stores failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": out})
}

func (s *Server) handleListAgents(c *gin.Context) {
	out, err := s.agents.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list agents failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}
