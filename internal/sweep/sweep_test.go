package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"openrange/internal/backtest"
	"openrange/internal/barstore"
	"openrange/internal/loader"
)

func testStore() *barstore.Store {
	opts := loader.DefaultGenerateOptions(
		time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	opts.Interval = 30 * time.Minute
	return barstore.New(loader.Generate(opts))
}

func TestYearGrid(t *testing.T) {
	jobs := YearGrid(testStore(), backtest.DefaultConfig(), []float64{0.5, 1, 2})
	if len(jobs) != 6 {
		t.Fatalf("Expected 6 jobs, got %d", len(jobs))
	}
	if jobs[0].Year != 2022 || jobs[3].Year != 2023 {
		t.Errorf("Expected years in order, got %d and %d", jobs[0].Year, jobs[3].Year)
	}
	if jobs[1].Config.RangeRequirement != 1 {
		t.Errorf("Expected range 1, got %.2f", jobs[1].Config.RangeRequirement)
	}
	for _, j := range jobs {
		if len(j.Bars) == 0 {
			t.Errorf("job %s has no bars", j.Label)
		}
		if j.Bars[0].Time.Year() != j.Year {
			t.Errorf("job %s starts in %d", j.Label, j.Bars[0].Time.Year())
		}
	}

	single := YearGrid(testStore(), backtest.DefaultConfig(), nil)
	if len(single) != 2 || single[0].Config.RangeRequirement != 2 {
		t.Errorf("Expected one job per year at the base range, got %d", len(single))
	}
}

func TestRunMatchesSequential(t *testing.T) {
	jobs := YearGrid(testStore(), backtest.DefaultConfig(), []float64{0.5, 1, 1.5, 2})

	var calls int64
	s := New(3, time.Minute, nil)
	s.SetProgressCallback(func(done, total int) {
		atomic.AddInt64(&calls, 1)
		if total != len(jobs) {
			t.Errorf("Expected total %d, got %d", len(jobs), total)
		}
	})

	report, err := s.Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Total != len(jobs) || report.Failed != 0 {
		t.Errorf("Expected %d jobs without failures, got %+v", len(jobs), report)
	}
	if int(atomic.LoadInt64(&calls)) != len(jobs) {
		t.Errorf("Expected %d progress calls, got %d", len(jobs), calls)
	}

	for i, job := range jobs {
		out := report.Outcomes[i]
		if out.Label != job.Label {
			t.Fatalf("outcome %d: Expected %s, got %s", i, job.Label, out.Label)
		}

		bt, err := backtest.New(job.Config, nil)
		if err != nil {
			t.Fatal(err)
		}
		want, err := bt.Run(context.Background(), job.Bars)
		if err != nil {
			t.Fatal(err)
		}
		if len(out.Result.Trades) != len(want.Trades) || out.Result.Stats.TotalPnL != want.Stats.TotalPnL {
			t.Errorf("outcome %d: parallel result differs from a sequential run", i)
		}
	}
}

func TestRunReportsFailedJobs(t *testing.T) {
	jobs := YearGrid(testStore(), backtest.DefaultConfig(), nil)
	jobs[1].Config.ProfitTarget = 0

	report, err := New(2, 0, nil).Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("Expected 1 failed job, got %d", report.Failed)
	}
	if !errors.Is(report.Outcomes[1].Err, backtest.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", report.Outcomes[1].Err)
	}
	if report.Outcomes[0].Result == nil {
		t.Error("Expected the valid job to complete")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(2, 0, nil).Run(ctx, YearGrid(testStore(), backtest.DefaultConfig(), nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if report.Failed != report.Total {
		t.Errorf("Expected every job to fail, got %d of %d", report.Failed, report.Total)
	}
}

func TestRunEmpty(t *testing.T) {
	report, err := New(4, time.Second, nil).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Total != 0 || len(report.Outcomes) != 0 {
		t.Errorf("Expected an empty report, got %+v", report)
	}
}
