package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/dedupstack/internal/config"
	"github.com/agenthands/dedupstack/internal/core"
	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/crm"
	"github.com/agenthands/dedupstack/internal/driver"
	"github.com/agenthands/dedupstack/internal/source"
	"github.com/agenthands/dedupstack/internal/store"
	"github.com/agenthands/dedupstack/internal/task"
)

type Server struct {
	Engine   *core.Engine
	Ingestor *source.Ingestor
	Store    store.Store
	Runner   *task.Runner
}

func NewServer() *Server {
	dbURI := os.Getenv("MEMGRAPH_URI")
	if dbURI == "" {
		dbURI = "bolt://localhost:7687"
	}
	dbUser := os.Getenv("MEMGRAPH_USER")
	dbPass := os.Getenv("MEMGRAPH_PASSWORD")

	d, err := driver.NewMemgraphDriver(dbURI, dbUser, dbPass)
	if err != nil {
		log.Fatalf("Failed to connect to Memgraph: %v", err)
	}
	if err := d.BuildIndices(context.Background()); err != nil {
		log.Fatalf("Failed to build indices: %v", err)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("Warning: could not load %s: %v. Using built-in defaults", cfgPath, err)
		cfg = config.Default()
	}

	// Env overrides for the pieces that carry secrets or differ per deploy.
	if v := os.Getenv("CRM_BASE_URL"); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := os.Getenv("CRM_API_KEY"); v != "" {
		cfg.CRM.APIKey = v
	}

	absorber := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey)

	s := store.NewGraphStore(d)
	runner := task.NewRunner(
		cfg.Runner.Workers,
		cfg.Runner.MaxAttempts,
		time.Duration(cfg.Runner.BackoffMillis)*time.Millisecond,
		time.Duration(cfg.Runner.StepBudgetSeconds)*time.Second,
	)
	runner.Start(context.Background())

	return &Server{
		Engine:   core.NewEngine(s, runner, cfg, absorber),
		Ingestor: source.NewIngestor(s, cfg),
		Store:    s,
		Runner:   runner,
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	ws := r.Group("/workspaces/:workspace")
	ws.POST("/items", s.IngestItems)
	ws.POST("/install", s.Install)
	ws.POST("/resolve", s.Resolve)
	ws.GET("/stacks", s.ListStacks)
	ws.GET("/stacks/:stack", s.GetStack)
	ws.POST("/stacks/:stack/merge", s.MergeStack)
	ws.POST("/stacks/:stack/members/:item/false-positive", s.MarkFalsePositive)
	ws.POST("/merge", s.MergeAll)
	ws.GET("/progress", s.Progress)
	ws.POST("/reset", s.Reset)

	return r
}

type IngestRequest struct {
	ItemType model.ItemType   `json:"item_type" binding:"required"`
	Records  []*source.Record `json:"records" binding:"required"`
}

func (s *Server) IngestItems(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	changed, err := s.Ingestor.Ingest(c.Request.Context(), c.Param("workspace"), req.ItemType, req.Records)
	if err != nil {
		log.Printf("Failed to ingest records: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest records", "changed": changed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "changed": changed})
}

func (s *Server) Install(c *gin.Context) {
	if err := s.Engine.StartInstall(c.Request.Context(), c.Param("workspace")); err != nil {
		log.Printf("Failed to start install: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start install"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) Resolve(c *gin.Context) {
	if err := s.Engine.StartResolve(c.Request.Context(), c.Param("workspace")); err != nil {
		log.Printf("Failed to start resolve: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start resolve"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) ListStacks(c *gin.Context) {
	stacks, err := s.Store.ListStacks(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		log.Printf("Failed to list stacks: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list stacks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stacks": stacks})
}

func (s *Server) GetStack(c *gin.Context) {
	stack, err := s.Store.GetStack(c.Request.Context(), c.Param("workspace"), c.Param("stack"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stack not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to get stack: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stack"})
		return
	}
	c.JSON(http.StatusOK, stack)
}

// MergeRequest is optional on both merge routes; an empty body means a
// CONFIDENT-only merge.
type MergeRequest struct {
	IncludePotential bool `json:"include_potential"`
}

func (s *Server) MergeStack(c *gin.Context) {
	var req MergeRequest
	_ = c.ShouldBindJSON(&req)

	result, err := s.Engine.MergeStack(c.Request.Context(), c.Param("workspace"), c.Param("stack"), req.IncludePotential)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stack not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to merge stack: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge stack"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) MergeAll(c *gin.Context) {
	var req MergeRequest
	_ = c.ShouldBindJSON(&req)

	results, err := s.Engine.MergeAll(c.Request.Context(), c.Param("workspace"), req.IncludePotential)
	if err != nil {
		log.Printf("Failed to merge workspace: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge workspace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) MarkFalsePositive(c *gin.Context) {
	err := s.Engine.MarkFalsePositive(c.Request.Context(), c.Param("workspace"), c.Param("stack"), c.Param("item"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stack or member not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to mark false positive: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark false positive"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) Progress(c *gin.Context) {
	ops, err := s.Engine.Progress(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		log.Printf("Failed to read progress: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

func (s *Server) Reset(c *gin.Context) {
	if err := s.Engine.Reset(c.Request.Context(), c.Param("workspace")); err != nil {
		log.Printf("Failed to reset workspace: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset workspace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
