package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRunTimeout is the maximum duration of one run.
var DefaultRunTimeout = 30 * time.Minute

// DefaultRunRetention is how long a finished run stays queryable.
var DefaultRunRetention = time.Hour

var (
	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunNotFinished is returned when a document is requested before the
	// run completed.
	ErrRunNotFinished = errors.New("run not finished")

	errNoSourceDir = errors.New("invalid configuration: no source directory")
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Finished reports whether the state is terminal.
func (s RunState) Finished() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// ServiceConfig configures a Service. Zero values select defaults.
type ServiceConfig struct {
	SourceDir string // used when a request names no directory
	Workers   int
	BatchSize int
	Defaults  Defaults
	Patterns  *PatternTable
	Document  DocumentOptions

	// References builds the reference source for a directory; nil reads
	// the CSV files of the directory.
	References func(dir string) ReferenceSource
	Sink       Sink

	Limiter    *RunLimiter
	RunTimeout time.Duration
	Retention  time.Duration
	Logger     *slog.Logger
}

// RunRequest describes a run to start.
type RunRequest struct {
	SourceDir string `json:"source_dir"`
	Workers   int    `json:"workers,omitempty"`
}

// RunStatus is a snapshot of a run.
type RunStatus struct {
	ID         string           `json:"id"`
	SourceDir  string           `json:"source_dir"`
	Trigger    string           `json:"trigger,omitempty"`
	State      RunState         `json:"state"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitzero"`
	Progress   []Progress       `json:"progress"`
	Summary    *MetadataSummary `json:"summary,omitempty"`
	Error      *UserMessage     `json:"error,omitempty"`
}

// Service runs conversions in the background and keeps their results
// until they expire.
type Service struct {
	cfg     ServiceConfig
	limiter *RunLimiter
	log     *slog.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	mu     sync.Mutex
	status RunStatus
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRunLimiter(0, 0)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRunRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		limiter: cfg.Limiter,
		log:     cfg.Logger,
		runs:    make(map[string]*activeRun),
	}
}

// KindInfo describes one registered kind.
type KindInfo struct {
	Kind    Kind   `json:"kind"`
	Section string `json:"section,omitempty"`
	File    string `json:"file"`
	Order   int    `json:"order"`
}

// Kinds lists the registered kinds in processing order.
func (s *Service) Kinds() []KindInfo {
	rules := Rules()
	infos := make([]KindInfo, len(rules))
	for i, r := range rules {
		infos[i] = KindInfo{Kind: r.Kind, Section: r.Section, File: r.File, Order: r.Order}
	}
	return infos
}

// Limiter exposes the run limiter for health reporting.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Start waits for a run slot and begins a run in the background. It returns
// the run ID immediately; the run does not inherit ctx's cancellation, only
// its trigger.
func (s *Service) Start(ctx context.Context, req RunRequest) (string, error) {
	if req.SourceDir == "" {
		req.SourceDir = s.cfg.SourceDir
	}
	if req.SourceDir == "" {
		return "", errNoSourceDir
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	return s.launch(ctx, req), nil
}

// TryStart is Start without waiting: it fails with ErrTooManyRuns when no
// slot is free.
func (s *Service) TryStart(ctx context.Context, req RunRequest) (string, error) {
	if req.SourceDir == "" {
		req.SourceDir = s.cfg.SourceDir
	}
	if req.SourceDir == "" {
		return "", errNoSourceDir
	}
	if !s.limiter.TryAcquire() {
		return "", ErrTooManyRuns
	}
	return s.launch(ctx, req), nil
}

// launch registers and starts a run. The caller holds a limiter slot.
func (s *Service) launch(ctx context.Context, req RunRequest) string {
	id := uuid.NewString()
	trigger := TriggerFromContext(ctx)
	runCtx, cancel := context.WithTimeout(ContextWithTrigger(ContextWithRunID(context.Background(), id), trigger), s.cfg.RunTimeout)

	run := &activeRun{
		status: RunStatus{
			ID:        id,
			SourceDir: req.SourceDir,
			Trigger:   trigger,
			State:     RunPending,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()

	go s.execute(runCtx, run, req)

	return id
}

func (s *Service) execute(ctx context.Context, run *activeRun, req RunRequest) {
	defer s.limiter.Release()
	defer close(run.done)
	defer run.cancel()

	log := s.log.With("run_id", run.status.ID, "trigger", run.status.Trigger)
	run.setState(RunRunning)
	log.Info("run started", "source_dir", req.SourceDir)

	workers := s.cfg.Workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	opts := PipelineOptions{
		RunID:     run.status.ID,
		SourceDir: req.SourceDir,
		Workers:   workers,
		BatchSize: s.cfg.BatchSize,
		Defaults:  s.cfg.Defaults,
		Patterns:  s.cfg.Patterns,
		Sink:      s.cfg.Sink,
		Logger:    s.log,
		Progress:  run.progress,
	}
	if s.cfg.References != nil {
		opts.References = s.cfg.References(req.SourceDir)
	}

	result, err := Run(ctx, opts)

	run.mu.Lock()
	run.result, run.err = result, err
	run.status.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		run.status.State = RunSucceeded
		sum := result.Metadata.Summary()
		run.status.Summary = &sum
	case errors.Is(err, context.Canceled):
		run.status.State = RunCancelled
	default:
		run.status.State = RunFailed
	}
	if err != nil {
		msg := MapError(err)
		run.status.Error = &msg
	}
	state := run.status.State
	run.mu.Unlock()

	if err != nil {
		log.Error("run finished", "state", state, "error", err)
	} else {
		log.Info("run finished", "state", state)
	}
	s.cleanup(run.status.ID, s.cfg.Retention)
}

func (r *activeRun) setState(state RunState) {
	r.mu.Lock()
	r.status.State = state
	r.mu.Unlock()
}

// progress keeps the latest report per kind in processing order.
func (r *activeRun) progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.status.Progress {
		if r.status.Progress[i].Kind == p.Kind {
			r.status.Progress[i] = p
			return
		}
	}
	r.status.Progress = append(r.status.Progress, p)
}

func (r *activeRun) snapshot() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	st.Progress = slices.Clone(r.status.Progress)
	return st
}

func (s *Service) get(id string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Status returns the current state of a run.
func (s *Service) Status(id string) (RunStatus, error) {
	run, err := s.get(id)
	if err != nil {
		return RunStatus{}, err
	}
	return run.snapshot(), nil
}

// List returns all tracked runs, newest first.
func (s *Service) List() []RunStatus {
	s.mu.RLock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.snapshot())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b RunStatus) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Cancel stops an in-progress run. Cancelling a finished run is a no-op.
func (s *Service) Cancel(id string) error {
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (*Result, error) {
	run, err := s.get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, run.err
}

// Result returns the outcome of a finished run. A failed run returns its
// error.
func (s *Service) Result(id string) (*Result, error) {
	run, err := s.get(id)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if state := run.status.State; !state.Finished() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotFinished, id, state)
	}
	return run.result, run.err
}

// WriteDocument streams the document of a finished run to w.
func (s *Service) WriteDocument(ctx context.Context, id string, w io.Writer) error {
	result, err := s.Result(id)
	if err != nil {
		return err
	}
	return NewDocumentWriter(w, s.cfg.Document).Write(ctx, result.Document)
}

// Shutdown cancels every in-progress run and waits for them to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, run := range s.runs {
		run.cancel()
	}
	s.mu.RUnlock()
	return s.limiter.WaitForDrain(ctx)
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
	})
}
