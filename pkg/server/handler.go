package server

import (
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/research"
)

const (
	maxFetchURLs   = 20
	maxSearchNum   = 10
	ndjsonMIMEType = "application/x-ndjson"
)

// Handler exposes every research operation over HTTP. Runs is nil when no
// database is configured; the run routes then answer 503.
type Handler struct {
	Engine *research.Engine
	Runs   *Service
	Logger *slog.Logger
}

func NewHandler(engine *research.Engine, runs *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, Runs: runs, Logger: logger}
}

// RegisterRoutes mounts the API under /api behind auth.
func (h *Handler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)

	api := r.Group("/api")
	if auth != nil {
		api.Use(auth)
	}
	{
		api.GET("/research/expand-question", h.expandQuestion)
		api.GET("/research/analyze-question", h.analyzeQuestion)
		api.GET("/research/current-events", h.currentEvents)
		api.POST("/research/fetch", h.fetchURLs)
		api.POST("/research/answer", h.answer)
		api.POST("/research/evaluate", h.evaluate)

		api.GET("/search/search", h.search)
		api.POST("/search/execute", h.executeQueries)
		api.POST("/search/score", h.scoreResults)

		api.POST("/research/runs", h.createRun)
		api.GET("/research/runs", h.listRuns)
		api.GET("/research/runs/:id", h.getRun)
		api.GET("/research/runs/:id/logs", h.getRunLogs)
		api.GET("/research/runs/:id/sources/search", h.searchRunSources)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func wantStream(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("stream"))
	return v
}

func requiredQuery(c *gin.Context, name string) (string, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required"})
		return "", false
	}
	return v, true
}

// upstreamError answers a request whose operation hit a fatal provider error.
func (h *Handler) upstreamError(c *gin.Context, op string, err error) {
	h.Logger.Error("Research operation aborted", "op", op, "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

// streamNDJSON writes one JSON document per line and flushes after each.
// An error from seq is sent as a final {"error": ...} line.
func streamNDJSON[T any](c *gin.Context, seq iter.Seq2[T, error], wrap func(T) any) {
	c.Header("Content-Type", ndjsonMIMEType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	for v, err := range seq {
		if err != nil {
			_ = enc.Encode(gin.H{"error": err.Error()})
			c.Writer.Flush()
			return
		}
		if err := enc.Encode(wrap(v)); err != nil {
			// Client went away.
			return
		}
		c.Writer.Flush()
	}
}

func chunkLine(s string) any { return gin.H{"chunk": s} }

func (h *Handler) expandQuestion(c *gin.Context) {
	question, ok := requiredQuery(c, "question")
	if !ok {
		return
	}
	if wantStream(c) {
		streamNDJSON(c, h.Engine.ExpandStream(c.Request.Context(), question), chunkLine)
		return
	}

	queries, err := h.Engine.Expand(c.Request.Context(), question)
	if err != nil {
		h.upstreamError(c, "expand", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queries": queries})
}

func (h *Handler) analyzeQuestion(c *gin.Context) {
	question, ok := requiredQuery(c, "question")
	if !ok {
		return
	}
	if wantStream(c) {
		streamNDJSON(c, h.Engine.AnalyzeScopeStream(c.Request.Context(), question), chunkLine)
		return
	}

	analysis, check, err := h.Engine.AnalyzeQuestion(c.Request.Context(), question)
	if err != nil {
		h.upstreamError(c, "analyze", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis, "current_events": check})
}

func (h *Handler) currentEvents(c *gin.Context) {
	question, ok := requiredQuery(c, "question")
	if !ok {
		return
	}
	check, err := h.Engine.CheckCurrentEvents(c.Request.Context(), question)
	if err != nil {
		h.upstreamError(c, "current_events", err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (h *Handler) search(c *gin.Context) {
	query, ok := requiredQuery(c, "query")
	if !ok {
		return
	}
	opts := h.Engine.Config.Search
	if raw := c.Query("num"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchNum {
			c.JSON(http.StatusBadRequest, gin.H{"error": "num must be between 1 and 10"})
			return
		}
		opts.NumResults = n
	}

	results := h.Engine.Searcher.Search(c.Request.Context(), query, opts)
	if results == nil {
		results = []research.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type executeRequest struct {
	Queries []string `json:"queries" binding:"required"`
}

func (h *Handler) executeQueries(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if wantStream(c) {
		streamNDJSON(c, h.Engine.ExecuteQueriesStream(c.Request.Context(), req.Queries),
			func(b research.QueryBatch) any { return b })
		return
	}

	results, err := h.Engine.ExecuteQueries(c.Request.Context(), req.Queries)
	if err != nil {
		h.upstreamError(c, "execute", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type scoreRequest struct {
	Query   string                  `json:"query" binding:"required"`
	Results []research.SearchResult `json:"results"`
}

func (h *Handler) scoreResults(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scored, err := h.Engine.ScoreResults(c.Request.Context(), req.Query, req.Results)
	if err != nil {
		h.upstreamError(c, "score", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": scored})
}

type fetchRequest struct {
	URLs []string `json:"urls" binding:"required"`
}

func (h *Handler) fetchURLs(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.URLs) > maxFetchURLs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most 20 urls per request"})
		return
	}
	sources := h.Engine.Fetcher.FetchAll(c.Request.Context(), req.URLs)
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

type answerRequest struct {
	Question string                `json:"question"`
	Sources  []research.URLContent `json:"sources"`
}

func (h *Handler) answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if wantStream(c) {
		streamNDJSON(c, h.Engine.SynthesizeAnswerStream(c.Request.Context(), req.Question, req.Sources), chunkLine)
		return
	}

	answer, err := h.Engine.SynthesizeAnswer(c.Request.Context(), req.Question, req.Sources)
	if err != nil {
		h.upstreamError(c, "answer", err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

type evaluateRequest struct {
	Question string                    `json:"question"`
	Analysis research.QuestionAnalysis `json:"analysis"`
	Answer   research.ResearchAnswer   `json:"answer"`
}

func (h *Handler) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	eval, err := h.Engine.EvaluateAnswer(c.Request.Context(), req.Question, req.Analysis, req.Answer)
	if err != nil {
		h.upstreamError(c, "evaluate", err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

// runsAvailable answers 503 when run storage is off.
func (h *Handler) runsAvailable(c *gin.Context) bool {
	if h.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrRunsDisabled.Error()})
		return false
	}
	return true
}

func runID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) runError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	case errors.Is(err, ErrIndexDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("Run request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ownerFilter is the user id runs are scoped to; anonymous callers see all.
func ownerFilter(c *gin.Context) string {
	id := IdentityFrom(c)
	if id.Anonymous {
		return ""
	}
	return id.UserID
}

type createRunRequest struct {
	Question string `json:"question" binding:"required"`
}

func (h *Handler) createRun(c *gin.Context) {
	if !h.runsAvailable(c) {
		return
	}
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.Runs.StartRun(c.Request.Context(), IdentityFrom(c).UserID, req.Question)
	if errors.Is(err, ErrEmptyQuestion) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.runError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (h *Handler) listRuns(c *gin.Context) {
	if !h.runsAvailable(c) {
		return
	}
	runs, err := h.Runs.ListRuns(c.Request.Context(), ownerFilter(c))
	if err != nil {
		h.runError(c, err)
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) getRun(c *gin.Context) {
	if !h.runsAvailable(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}
	run, err := h.Runs.GetRun(c.Request.Context(), ownerFilter(c), id)
	if err != nil {
		h.runError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getRunLogs(c *gin.Context) {
	if !h.runsAvailable(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}
	logs, err := h.Runs.RunLogs(c.Request.Context(), ownerFilter(c), id)
	if err != nil {
		h.runError(c, err)
		return
	}
	if logs == nil {
		logs = []database.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *Handler) searchRunSources(c *gin.Context) {
	if !h.runsAvailable(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}
	query, ok := requiredQuery(c, "query")
	if !ok {
		return
	}
	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be between 1 and 50"})
			return
		}
		topK = n
	}

	matches, err := h.Runs.SearchSources(c.Request.Context(), ownerFilter(c), id, query, c.Query("url"), topK)
	if err != nil {
		h.runError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}
