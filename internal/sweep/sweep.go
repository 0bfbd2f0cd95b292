package sweep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"openrange/internal/backtest"
	"openrange/internal/barstore"
	"openrange/pkg/model"
)

// ProgressCallback is called with progress updates
type ProgressCallback func(done, total int)

// Job is one independent backtest run
type Job struct {
	Label  string
	Year   int
	Config backtest.Config
	Bars   []model.Bar // read-only, may be shared between jobs
}

// Outcome is the result of one job
type Outcome struct {
	Label            string           `json:"label"`
	Year             int              `json:"year"`
	RangeRequirement float64          `json:"range_requirement"`
	Result           *backtest.Result `json:"result,omitempty"`
	Err              error            `json:"-"`
	Error            string           `json:"error,omitempty"`
}

// Report contains every outcome in job order
type Report struct {
	Total    int           `json:"total"`
	Failed   int           `json:"failed"`
	Outcomes []Outcome     `json:"outcomes"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Sweeper runs backtests in parallel
type Sweeper struct {
	workers      int
	timeout      time.Duration
	logger       *zap.Logger
	progressFunc ProgressCallback
}

// New creates a sweeper. A nil logger disables logging.
func New(workers int, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		workers: workers,
		timeout: timeout,
		logger:  logger,
	}
}

// SetProgressCallback sets the progress callback function
func (s *Sweeper) SetProgressCallback(fn ProgressCallback) {
	s.progressFunc = fn
}

// YearGrid builds one job per (year, range requirement) pair
func YearGrid(store *barstore.Store, base backtest.Config, ranges []float64) []Job {
	if len(ranges) == 0 {
		ranges = []float64{base.RangeRequirement}
	}

	var jobs []Job
	for _, year := range store.Years() {
		bars := store.Year(year)
		for _, r := range ranges {
			cfg := base
			cfg.RangeRequirement = r
			jobs = append(jobs, Job{
				Label:  fmt.Sprintf("%d range>=%.2f", year, r),
				Year:   year,
				Config: cfg,
				Bars:   bars,
			})
		}
	}
	return jobs
}

// Run executes every job on the worker pool. Outcomes keep job order;
// a failed job is reported in its outcome and does not stop the others.
func (s *Sweeper) Run(ctx context.Context, jobs []Job) (*Report, error) {
	startTime := time.Now()

	report := &Report{
		Total:    len(jobs),
		Outcomes: make([]Outcome, len(jobs)),
	}
	if len(jobs) == 0 {
		return report, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// Channels
	jobChan := make(chan int, len(jobs))
	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)

	// Progress counter
	var doneCount int64

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobChan {
				report.Outcomes[i] = s.runJob(ctx, jobs[i])

				count := atomic.AddInt64(&doneCount, 1)
				if s.progressFunc != nil {
					s.progressFunc(int(count), len(jobs))
				}
			}
		}()
	}
	wg.Wait()

	for _, o := range report.Outcomes {
		if o.Err != nil {
			report.Failed++
		}
	}
	report.Elapsed = time.Since(startTime)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("sweep interrupted: %w", err)
	}
	return report, nil
}

func (s *Sweeper) runJob(ctx context.Context, job Job) Outcome {
	out := Outcome{
		Label:            job.Label,
		Year:             job.Year,
		RangeRequirement: job.Config.RangeRequirement,
	}

	if err := ctx.Err(); err != nil {
		out.Err = err
		out.Error = err.Error()
		return out
	}

	bt, err := backtest.New(job.Config, s.logger)
	if err == nil {
		out.Result, err = bt.Run(ctx, job.Bars)
	}
	if err != nil {
		out.Err = err
		out.Error = err.Error()
		s.logger.Warn("sweep job failed", zap.String("job", job.Label), zap.Error(err))
		return out
	}
	// job bars are shared; drop the annotated copy
	out.Result.Bars = nil
	return out
}
