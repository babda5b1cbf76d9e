package sweep

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/modules/results"
	"github.com/aristath/allocator/internal/utils"
)

// Backtester runs one scenario
type Backtester interface {
	Backtest(ctx context.Context, req engine.BacktestRequest) (*engine.BacktestResult, error)
}

// Store persists sweeps and the backtests they produce
type Store interface {
	SaveBacktest(ctx context.Context, res *engine.BacktestResult) error
	SaveSweep(ctx context.Context, id, status string, createdAt time.Time, v interface{}) error
	LoadSweep(ctx context.Context, id string, v interface{}) error
}

// Runner executes sweeps in the background. Each sweep fans its scenarios
// out over a bounded worker pool.
type Runner struct {
	backtester   Backtester
	store        Store
	eventManager *events.Manager
	workers      int
	log          zerolog.Logger

	mu     sync.Mutex
	active map[string]*run
	wg     sync.WaitGroup
}

type run struct {
	sweep    *Sweep
	cancel   context.CancelFunc
	progress *ProgressReporter
}

// NewRunner creates a runner. workers <= 0 uses one worker per CPU.
// eventManager may be nil.
func NewRunner(backtester Backtester, store Store, eventManager *events.Manager, workers int, log zerolog.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		backtester:   backtester,
		store:        store,
		eventManager: eventManager,
		workers:      workers,
		log:          log.With().Str("component", "sweep_runner").Logger(),
		active:       make(map[string]*run),
	}
}

// Start validates and persists the sweep, then runs it in the background.
// The returned snapshot is in the pending state.
func (r *Runner) Start(ctx context.Context, req Request) (*Sweep, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s := &Sweep{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Request:   req,
		Outcomes:  make([]Outcome, len(req.Scenarios)),
		CreatedAt: time.Now().UTC(),
	}
	for i, sc := range req.Scenarios {
		s.Outcomes[i] = Outcome{Scenario: sc.Name}
	}
	if err := r.persist(ctx, s); err != nil {
		return nil, err
	}

	// The sweep outlives the request that started it
	runCtx, cancel := context.WithCancel(context.Background())
	rn := &run{sweep: s, cancel: cancel, progress: NewProgressReporter(r.eventManager, s.ID)}

	r.mu.Lock()
	r.active[s.ID] = rn
	snapshot := s.clone()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(runCtx, rn)

	r.log.Info().
		Str("sweep_id", s.ID).
		Int("scenarios", len(req.Scenarios)).
		Int("workers", r.workers).
		Msg("Sweep started")
	return snapshot, nil
}

func (r *Runner) execute(ctx context.Context, rn *run) {
	defer r.wg.Done()
	defer rn.cancel()

	timer := utils.NewTimer("sweep", r.log).WithSlowThreshold(15 * time.Minute)
	started := time.Now().UTC()

	r.mu.Lock()
	s := rn.sweep
	s.Status = StatusRunning
	s.StartedAt = &started
	snapshot := s.clone()
	r.mu.Unlock()

	if err := r.persist(context.Background(), snapshot); err != nil {
		r.log.Error().Err(err).Str("sweep_id", s.ID).Msg("Failed to persist running sweep")
	}
	r.eventManager.Emit("sweep", &events.SweepStatusData{
		SweepID:  s.ID,
		Status:   "started",
		Progress: &events.SweepProgressInfo{Total: snapshot.Total()},
	})

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i, sc := range snapshot.Request.Scenarios {
		if ctx.Err() != nil {
			break
		}
		i, sc := i, sc
		g.Go(func() error {
			r.runScenario(ctx, rn, i, sc)
			return nil
		})
	}
	_ = g.Wait()

	duration := timer.StopWithFields(map[string]interface{}{
		"sweep_id":  s.ID,
		"scenarios": snapshot.Total(),
	})
	finished := time.Now().UTC()

	r.mu.Lock()
	for i := range s.Outcomes {
		if s.Outcomes[i].Status == "" {
			s.Outcomes[i].Status = OutcomeSkipped
		}
	}
	switch {
	case ctx.Err() != nil:
		s.Status = StatusCancelled
	case s.Completed == 0:
		s.Status = StatusFailed
		s.Error = "all scenarios failed"
	default:
		s.Status = StatusCompleted
	}
	s.FinishedAt = &finished
	snapshot = s.clone()
	delete(r.active, s.ID)
	r.mu.Unlock()

	if err := r.persist(context.Background(), snapshot); err != nil {
		r.log.Error().Err(err).Str("sweep_id", s.ID).Msg("Failed to persist finished sweep")
	}

	r.eventManager.Emit("sweep", &events.SweepStatusData{
		SweepID: s.ID,
		Status:  string(snapshot.Status),
		Progress: &events.SweepProgressInfo{
			Completed: snapshot.Completed,
			Failed:    snapshot.Failed,
			Total:     snapshot.Total(),
		},
		Error:    snapshot.Error,
		Duration: duration.Seconds(),
	})

	r.log.Info().
		Str("sweep_id", s.ID).
		Str("status", string(snapshot.Status)).
		Int("completed", snapshot.Completed).
		Int("failed", snapshot.Failed).
		Dur("duration", duration).
		Msg("Sweep finished")
}

// runScenario runs one backtest. Cancellation is only observed before the
// backtest starts; a running scenario always finishes.
func (r *Runner) runScenario(ctx context.Context, rn *run, i int, sc Scenario) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	runCtx := context.WithoutCancel(ctx)
	outcome := Outcome{Scenario: sc.Name}

	res, err := r.backtester.Backtest(runCtx, sc.Apply(rn.sweep.Request.ScenarioBase()))
	if err == nil {
		err = r.store.SaveBacktest(runCtx, res)
	}
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()
		r.log.Warn().Err(err).Str("sweep_id", rn.sweep.ID).Str("scenario", sc.Name).Msg("Scenario failed")
	} else {
		outcome.Status = OutcomeCompleted
		outcome.BacktestID = res.ID
		if res.Report != nil {
			cumulative := res.Report.CumulativeReturn
			drawdown := res.Report.Drawdown.MaxDrawdown
			outcome.CumulativeReturn = &cumulative
			outcome.MaxDrawdown = &drawdown
			outcome.Sharpe = res.Report.Sharpe
		}
	}
	outcome.Duration = time.Since(start).Seconds()

	r.mu.Lock()
	s := rn.sweep
	s.Outcomes[i] = outcome
	if outcome.Status == OutcomeCompleted {
		s.Completed++
	} else {
		s.Failed++
	}
	completed, failed, total := s.Completed, s.Failed, s.Total()
	r.mu.Unlock()

	// subscribers may call back into the runner
	rn.progress.Report(completed, failed, total, sc.Name)
}

// Get returns a snapshot of a running sweep, or the stored copy of a
// finished one
func (r *Runner) Get(ctx context.Context, id string) (*Sweep, error) {
	r.mu.Lock()
	if rn, ok := r.active[id]; ok {
		snapshot := rn.sweep.clone()
		r.mu.Unlock()
		return snapshot, nil
	}
	r.mu.Unlock()

	var s Sweep
	if err := r.store.LoadSweep(ctx, id, &s); err != nil {
		if errors.Is(err, results.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, err
	}
	return &s, nil
}

// Cancel stops a running sweep. Scenarios already in progress finish; the
// rest are skipped.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	rn, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		rn.cancel()
		r.log.Info().Str("sweep_id", id).Msg("Sweep cancellation requested")
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrFinished
}

// Active returns the IDs of sweeps that have not finished
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every started sweep has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels every running sweep and waits for them to wind down
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, rn := range r.active {
		rn.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) persist(ctx context.Context, s *Sweep) error {
	return r.store.SaveSweep(ctx, s.ID, string(s.Status), s.CreatedAt, s)
}
