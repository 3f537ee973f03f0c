package workload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benz9527/xavl/lib/infra"
	"github.com/benz9527/xavl/lib/tree"
	"github.com/benz9527/xavl/xlog"
)

var (
	ErrWorkloadInvalidOption  = errors.New("[x-avl] workload invalid option")
	ErrWorkloadLostUpdate     = errors.New("[x-avl] workload lost update")
	ErrWorkloadUnexpectedKeys = errors.New("[x-avl] workload unexpected set content")
)

const (
	defaultThreads    = 8
	defaultThreadSize = 100
)

// SetObserver is called with every set created by the runner, before
// the scenario runs. The returned func, if any, is called after it.
type SetObserver func(scenario string, set tree.OrderedSet[int]) func()

type Runner struct {
	pool       *ants.Pool
	logger     xlog.XLogger
	threads    int
	threadSize int
	setOpts    []tree.SetOption
	observer   SetObserver
}

type RunnerOption func(r *Runner) error

func WithRunnerThreads(threads int) RunnerOption {
	return func(r *Runner) error {
		if threads <= 0 {
			return infra.WrapErrorStackWithMessage(ErrWorkloadInvalidOption, "non-positive threads")
		}
		r.threads = threads
		return nil
	}
}

// WithRunnerThreadSize sets how many keys a single goroutine owns.
func WithRunnerThreadSize(size int) RunnerOption {
	return func(r *Runner) error {
		if size < 4 {
			return infra.WrapErrorStackWithMessage(ErrWorkloadInvalidOption, "thread size less than 4")
		}
		r.threadSize = size
		return nil
	}
}

func WithRunnerXLogger(logger xlog.XLogger) RunnerOption {
	return func(r *Runner) error {
		if logger == nil {
			return infra.WrapErrorStackWithMessage(ErrWorkloadInvalidOption, "nil logger")
		}
		r.logger = xlog.NewComponentXLogger(logger, "Workload")
		return nil
	}
}

func WithRunnerSetOptions(opts ...tree.SetOption) RunnerOption {
	return func(r *Runner) error {
		r.setOpts = append(r.setOpts, opts...)
		return nil
	}
}

func WithRunnerSetObserver(observer SetObserver) RunnerOption {
	return func(r *Runner) error {
		r.observer = observer
		return nil
	}
}

func NewRunner(pool *ants.Pool, opts ...RunnerOption) (*Runner, error) {
	if pool == nil {
		return nil, infra.WrapErrorStackWithMessage(ErrWorkloadInvalidOption, "nil pool")
	}
	r := &Runner{
		pool:       pool,
		threads:    defaultThreads,
		threadSize: defaultThreadSize,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(r); err != nil {
			return nil, err
		}
	}
	if r.logger == nil {
		r.logger = xlog.NewComponentXLogger(xlog.NewXLogger(xlog.WithXLoggerLevel(xlog.LogLevelInfo)), "Workload")
	}
	return r, nil
}

// Result is the outcome of one scenario on one set kind.
type Result struct {
	Scenario  string
	Kind      tree.SetKind
	Len       int64
	Elapsed   time.Duration
	Reclaimed int
	Stats     *tree.SetStats
	Err       error
}

type Report struct {
	Results []Result
}

func (r *Report) Passed() int {
	return lo.CountBy(r.Results, func(res Result) bool {
		return res.Err == nil
	})
}

func (r *Report) Failed() []Result {
	return lo.Filter(r.Results, func(res Result, _ int) bool {
		return res.Err != nil
	})
}

// Err combines the errors of all the failed scenarios.
func (r *Report) Err() error {
	var err error
	for _, res := range r.Failed() {
		err = multierr.Append(err, fmt.Errorf("%s/%s: %w", res.Kind, res.Scenario, res.Err))
	}
	return err
}

// Run executes every scenario against every kind in order. It stops
// early only when ctx is done, scenario failures are kept in the
// report.
func (r *Runner) Run(ctx context.Context, kinds ...tree.SetKind) (*Report, error) {
	scenarios := Scenarios()
	report := &Report{
		Results: make([]Result, 0, len(kinds)*len(scenarios)),
	}
	for _, kind := range kinds {
		for _, sc := range scenarios {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Results = append(report.Results, r.RunScenario(kind, sc))
		}
	}
	return report, nil
}

func (r *Runner) RunScenario(kind tree.SetKind, sc Scenario) Result {
	res := Result{
		Scenario: sc.Name,
		Kind:     kind,
	}
	opts := r.setOpts
	if sc.Concurrent {
		opts = append(append(make([]tree.SetOption, 0, len(opts)+1), opts...), tree.WithSerialExternalLock())
	}
	set, err := tree.NewOrderedSet[int](kind, opts...)
	if err != nil {
		res.Err = err
		return res
	}
	if r.observer != nil {
		if done := r.observer(sc.Name, set); done != nil {
			defer done()
		}
	}

	start := time.Now()
	err = sc.run(r, set)
	res.Elapsed = time.Since(start)
	res.Len = set.Len()
	if err == nil {
		res.Reclaimed, err = r.settle(set)
	}
	if reporter, ok := set.(tree.StatsReporter); ok {
		stats := reporter.Stats()
		res.Stats = &stats
	}
	res.Err = err

	fields := []zap.Field{
		zap.String("scenario", sc.Name),
		zap.String("kind", kind.String()),
		zap.Int64("len", res.Len),
		zap.Duration("elapsed", res.Elapsed),
	}
	if err != nil {
		r.logger.ErrorStack(err, "scenario failed", fields...)
	} else {
		r.logger.Info("scenario passed", append(fields, zap.Int("reclaimed", res.Reclaimed))...)
	}
	return res
}

// settle validates the quiescent shape, then rebalances and releases
// the retired nodes of the sets which support it.
func (r *Runner) settle(set tree.OrderedSet[int]) (int, error) {
	if err := tree.Validate[int](set); err != nil {
		return 0, err
	}
	if rb, ok := set.(tree.Rebalancer); ok {
		if err := rb.Rebalance(); err != nil {
			return 0, err
		}
		if err := tree.BalanceViolationValidate[int](set.Root()); err != nil {
			return 0, err
		}
	}
	if q, ok := set.(tree.Quiescer); ok {
		return q.Quiesce()
	}
	return 0, nil
}

// parallel runs the task of every chunk in the pool and waits for
// all of them.
func (r *Runner) parallel(chunks [][]int, task func(chunk []int)) error {
	var (
		wg   sync.WaitGroup
		errs error
	)
	wg.Add(len(chunks))
	for _, chunk := range chunks {
		if err := r.pool.Submit(func() {
			defer wg.Done()
			task(chunk)
		}); err != nil {
			wg.Done()
			errs = multierr.Append(errs, err)
		}
	}
	wg.Wait()
	return errs
}

func (r *Runner) total() int {
	return r.threads * r.threadSize
}

func (r *Runner) chunks() [][]int {
	return lo.Chunk(lo.Range(r.total()), r.threadSize)
}
