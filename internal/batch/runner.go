// Package batch screens many addresses at once: every address is classified
// and risk scored on a bounded worker pool, high results raise alerts and
// every result is archived when a report store is attached.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/internal/solana"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

var (
	ErrNoJobs       = errors.New("batch contains no jobs")
	ErrTooManyJobs  = errors.New("batch exceeds the job limit")
	ErrRunNotFound  = errors.New("batch run not found")
	errNotScheduled = errors.New("not scheduled")
)

// Run states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
)

// maxTrackedRuns bounds how many finished runs Status can still report.
const maxTrackedRuns = 100

// Job is one address to screen together with its activity.
type Job struct {
	Address      string               `json:"address"`
	Transactions []models.Transaction `json:"transactions"`
	Transfers    []models.Transfer    `json:"transfers"`
	External     *models.ExternalRisk `json:"external,omitempty"`
}

// Result is the screening outcome of one job.
type Result struct {
	Address        string                       `json:"address"`
	Classification *models.ClassificationResult `json:"classification,omitempty"`
	Risk           *models.RiskScoreResult      `json:"risk,omitempty"`
	Alerted        bool                         `json:"alerted"`
	ReportID       string                       `json:"reportId,omitempty"`
	Error          string                       `json:"error,omitempty"`
}

// Status is a progress snapshot of a run. Results are filled once the run
// has finished.
type Status struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Total      int        `json:"total"`
	Completed  int64      `json:"completed"`
	Failed     int64      `json:"failed"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Results    []Result   `json:"results,omitempty"`
}

type run struct {
	id        string
	total     int
	started   time.Time
	completed atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	state    string
	finished time.Time
	results  []Result
}

func (r *run) finish(state string, results []Result, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.results = results
	r.finished = at
}

func (r *run) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		ID:        r.id,
		State:     r.state,
		Total:     r.total,
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		StartedAt: r.started,
	}
	if r.state != StateRunning {
		at := r.finished
		s.FinishedAt = &at
		s.Results = r.results
	}
	return s
}

// Option customizes a Runner.
type Option func(*Runner)

// WithAlerts raises alerts for results at or above the manager threshold.
func WithAlerts(m *alerts.Manager) Option {
	return func(r *Runner) { r.alerts = m }
}

// WithStore archives one report per screened address.
func WithStore(s db.ReportStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithMetrics records job outcomes and risk scores.
func WithMetrics(reg *metrics.Registry) Option {
	return func(r *Runner) { r.metrics = reg }
}

// Runner screens batches of addresses with bounded concurrency.
type Runner struct {
	analyzer    *heuristics.Analyzer
	alerts      *alerts.Manager
	store       db.ReportStore
	metrics     *metrics.Registry
	log         *logger.Logger
	concurrency int
	maxJobs     int
	now         func() time.Time

	mu    sync.RWMutex
	runs  map[string]*run
	order []string
}

// NewRunner creates a runner. Non-positive limits fall back to 8 workers
// and 1000 jobs per batch.
func NewRunner(analyzer *heuristics.Analyzer, cfg config.BatchConfig, log *logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		analyzer:    analyzer,
		log:         logger.OrNop(log).WithComponent("batch"),
		concurrency: cfg.Concurrency,
		maxJobs:     cfg.MaxJobs,
		now:         time.Now,
		runs:        make(map[string]*run),
	}
	if r.concurrency <= 0 {
		r.concurrency = 8
	}
	if r.maxJobs <= 0 {
		r.maxJobs = 1000
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Screen classifies and scores every job and blocks until all are done or
// ctx is cancelled. Results keep the order of jobs. On cancellation the
// partial results are returned together with the context error; jobs that
// never ran carry that error in Result.Error.
func (r *Runner) Screen(ctx context.Context, jobs []Job) ([]Result, error) {
	if err := r.check(jobs); err != nil {
		return nil, err
	}
	return r.screen(ctx, r.track(len(jobs)), jobs)
}

// Start screens jobs in the background and returns the run id to poll with
// Status. ctx bounds the whole run, so it should outlive the caller's request.
func (r *Runner) Start(ctx context.Context, jobs []Job) (string, error) {
	if err := r.check(jobs); err != nil {
		return "", err
	}
	rn := r.track(len(jobs))
	go func() {
		if _, err := r.screen(ctx, rn, jobs); err != nil {
			r.log.Warn("batch run interrupted", zap.String("run", rn.id), zap.Error(err))
		}
	}()
	return rn.id, nil
}

// Status reports the progress of a run started by Screen or Start.
func (r *Runner) Status(id string) (Status, error) {
	r.mu.RLock()
	rn, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return Status{}, ErrRunNotFound
	}
	return rn.status(), nil
}

func (r *Runner) check(jobs []Job) error {
	if len(jobs) == 0 {
		return ErrNoJobs
	}
	if len(jobs) > r.maxJobs {
		return fmt.Errorf("%w: %d > %d", ErrTooManyJobs, len(jobs), r.maxJobs)
	}
	return nil
}

func (r *Runner) track(total int) *run {
	rn := &run{id: uuid.NewString(), total: total, started: r.now().UTC(), state: StateRunning}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[rn.id] = rn
	r.order = append(r.order, rn.id)
	for len(r.order) > maxTrackedRuns {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
	return rn
}

func (r *Runner) screen(ctx context.Context, rn *run, jobs []Job) ([]Result, error) {
	r.log.Info("batch screening started",
		zap.String("run", rn.id),
		zap.Int("jobs", len(jobs)),
		zap.Int("concurrency", r.concurrency))

	results := make([]Result, len(jobs))
	scheduled := make([]bool, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		scheduled[i] = true
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Address: job.Address, Error: err.Error()}
				rn.failed.Add(1)
				r.metrics.RecordBatchJob("cancelled")
				return err
			}
			results[i] = r.screenOne(gctx, job)
			if results[i].Error != "" {
				rn.failed.Add(1)
				r.metrics.RecordBatchJob("invalid")
			} else {
				r.metrics.RecordBatchJob("screened")
			}
			rn.completed.Add(1)
			return nil
		})
	}
	err := g.Wait()

	unscheduled := 0
	for _, ok := range scheduled {
		if !ok {
			unscheduled++
		}
	}
	if err == nil && unscheduled > 0 {
		err = ctx.Err()
	}
	if unscheduled > 0 {
		cause := errNotScheduled
		if err != nil {
			cause = err
		}
		for i := range jobs {
			if !scheduled[i] {
				results[i] = Result{Address: jobs[i].Address, Error: cause.Error()}
				rn.failed.Add(1)
				r.metrics.RecordBatchJob("cancelled")
			}
		}
	}

	state := StateCompleted
	if err != nil {
		state = StateCancelled
	}
	rn.finish(state, results, r.now().UTC())

	r.log.Info("batch screening finished",
		zap.String("run", rn.id),
		zap.String("state", state),
		zap.Int64("completed", rn.completed.Load()),
		zap.Int64("failed", rn.failed.Load()))
	return results, err
}

func (r *Runner) screenOne(ctx context.Context, job Job) Result {
	res := Result{Address: job.Address}
	if err := solana.ValidateAddress(job.Address); err != nil {
		res.Error = err.Error()
		return res
	}

	classification := r.analyzer.ClassifyAddress(job.Address, job.Transactions, job.Transfers, job.External)
	risk := r.analyzer.ScoreAddress(heuristics.AddressRiskInput{
		Address:      job.Address,
		Transactions: job.Transactions,
		Transfers:    job.Transfers,
		External:     job.External,
	})
	res.Classification = &classification
	res.Risk = &risk

	r.metrics.RecordAnalysis(db.KindBatch)
	r.metrics.RecordRiskScore(models.EntityAddress, risk.RiskScore)

	if r.alerts != nil {
		res.Alerted = r.alerts.EmitFromRisk(ctx, risk)
	}
	if r.store != nil {
		res.ReportID = r.archive(ctx, res)
	}
	return res
}

func (r *Runner) archive(ctx context.Context, res Result) string {
	report, err := db.NewReport(db.KindBatch, res.Address, res)
	if err != nil {
		r.log.Warn("failed to build batch report", zap.String("address", res.Address), zap.Error(err))
		return ""
	}
	score := res.Risk.RiskScore
	report.RiskScore = &score
	report.RiskLevel = res.Risk.RiskLevel
	report.Policy = res.Risk.PolicyVersion

	if err := r.store.SaveReport(ctx, report); err != nil {
		r.log.Warn("failed to archive batch report", zap.String("address", res.Address), zap.Error(err))
		return ""
	}
	return report.ID
}
