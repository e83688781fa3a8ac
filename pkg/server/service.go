package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/mikeboe/research-agent/pkg/sourceindex"
)

var (
	ErrRunsDisabled  = errors.New("run storage is not configured")
	ErrIndexDisabled = errors.New("source index is not configured")
	ErrEmptyQuestion = errors.New("question is required")
)

const maxListedRuns = 50

// RunStore is satisfied by *database.PostgresDB.
type RunStore interface {
	LogWriter
	CreateRun(ctx context.Context, userID, question string) (*database.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]database.Run, error)
	SetRunStatus(ctx context.Context, id uuid.UUID, status database.RunStatus) error
	SaveRunState(ctx context.Context, id uuid.UUID, state []byte) error
	FinishRun(ctx context.Context, id uuid.UUID, status database.RunStatus, report []byte, reason string) error
	RunLogs(ctx context.Context, runID uuid.UUID) ([]database.LogEntry, error)
}

// SourceIndex is satisfied by *sourceindex.Index.
type SourceIndex interface {
	AddSources(ctx context.Context, runID string, sources []tools.URLContent) (int, error)
	Search(ctx context.Context, runID, query, url string, topK int) ([]sourceindex.Match, error)
}

// Service runs full research pipelines in the background and keeps their
// progress, logs and reports in the store.
type Service struct {
	Store RunStore
	// NewEngine builds the engine for one run around a logger that writes
	// to the run's log.
	NewEngine func(logger *slog.Logger) *research.Engine
	Index     SourceIndex
	Logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(store RunStore, newEngine func(*slog.Logger) *research.Engine, index SourceIndex, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Store:     store,
		NewEngine: newEngine,
		Index:     index,
		Logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartRun stores a pending run and starts it in the background.
func (s *Service) StartRun(ctx context.Context, userID, question string) (*database.Run, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	run, err := s.Store.CreateRun(ctx, userID, question)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runWorker(s.ctx, run.ID, question)
	}()
	return run, nil
}

// GetRun returns a run owned by userID. Runs of other users are reported
// as not found.
func (s *Service) GetRun(ctx context.Context, userID string, id uuid.UUID) (*database.Run, error) {
	run, err := s.Store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && run.UserID != userID {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, userID string) ([]database.Run, error) {
	return s.Store.ListRuns(ctx, userID, maxListedRuns)
}

func (s *Service) RunLogs(ctx context.Context, userID string, id uuid.UUID) ([]database.LogEntry, error) {
	if _, err := s.GetRun(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.Store.RunLogs(ctx, id)
}

// SearchSources runs a similarity search over the sources a run fetched.
func (s *Service) SearchSources(ctx context.Context, userID string, id uuid.UUID, query, url string, topK int) ([]sourceindex.Match, error) {
	if s.Index == nil {
		return nil, ErrIndexDisabled
	}
	if _, err := s.GetRun(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.Index.Search(ctx, id.String(), query, url, topK)
}

// Close cancels running pipelines and waits for their workers to record
// the outcome.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every started run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) runWorker(ctx context.Context, runID uuid.UUID, question string) {
	runLogger := slog.New(NewDBLogHandler(s.Store, runID, s.Logger.Handler()))

	if err := s.Store.SetRunStatus(ctx, runID, database.RunRunning); err != nil {
		s.Logger.Error("Failed to mark run as running", "run_id", runID, "error", err)
	}

	engine := s.NewEngine(runLogger)
	engine.Logger = runLogger
	engine.OnStateUpdate = func(state research.ResearchState) {
		stateJSON, err := json.Marshal(state)
		if err != nil {
			runLogger.Error("Failed to marshal state", "error", err)
			return
		}
		if err := s.Store.SaveRunState(context.WithoutCancel(ctx), runID, stateJSON); err != nil {
			runLogger.Error("Failed to save state to DB", "error", err)
		}
	}

	report, runErr := engine.Run(ctx, question)
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("research run cancelled: %w", ctx.Err())
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		runLogger.Error("Failed to marshal report", "error", err)
		reportJSON = nil
	}

	// The outcome is recorded even when the service is shutting down.
	finishCtx := context.WithoutCancel(ctx)
	status, reason := database.RunCompleted, ""
	if runErr != nil {
		status, reason = database.RunFailed, runErr.Error()
		runLogger.Error("Research failed", "error", runErr)
	}
	if err := s.Store.FinishRun(finishCtx, runID, status, reportJSON, reason); err != nil {
		s.Logger.Error("Failed to save final report", "run_id", runID, "error", err)
		return
	}

	if s.Index == nil || runErr != nil {
		return
	}
	n, err := s.Index.AddSources(finishCtx, runID.String(), report.Sources)
	if err != nil {
		runLogger.Warn("Failed to index sources", "error", err)
		return
	}
	runLogger.Info("Sources indexed", "chunks", n)
}
