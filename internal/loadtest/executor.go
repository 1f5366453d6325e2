package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/logging"
)

const metricsBufferSize = 100

// IterationFunc runs one scenario iteration for a VU. vu is 1-based and
// iteration counts from 0 per VU.
type IterationFunc func(ctx context.Context, vu, iteration int) error

// IterationTask represents a single iteration to be executed by some VU
type IterationTask struct {
	SequenceNum int
}

// IterationResult represents the outcome of a single iteration
type IterationResult struct {
	SequenceNum int
	VU          int
	Iteration   int
	DurationMs  int64
	ElapsedMs   int64
	Error       error
	Timestamp   time.Time
}

// Executor runs a shared-iterations load test: a fixed pool of VUs pulls
// iterations from one queue until it is drained, cancelled or timed out.
type Executor struct {
	config          *ExecutionConfig
	manager         *Manager
	run             *Run
	stats           *Stats
	thresholds      []check.Threshold
	limiter         *rate.Limiter
	ctx             context.Context
	cancelFunc      context.CancelFunc
	wg              sync.WaitGroup
	workersReady    sync.WaitGroup
	taskChan        chan *IterationTask
	resultChan      chan *IterationResult
	collectorDone   chan struct{}
	closeOnce       sync.Once // Ensures resultChan is only closed once
	finalizeOnce    sync.Once
	finalizeErr     error
	testStart       time.Time
	statsMu         sync.Mutex
	iterationsSent  int
	activeVUs       atomic.Int32
	durationReached atomic.Bool
	metricsBuf      []*IterationMetric
}

// NewExecutor creates a new load test executor and its run record. The
// executor stops when ctx is cancelled.
func NewExecutor(ctx context.Context, config *ExecutionConfig, manager *Manager) (*Executor, error) {
	if config == nil || config.Config == nil {
		return nil, errors.New("missing execution config")
	}
	if err := config.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Iterate == nil {
		return nil, errors.New("missing iteration function")
	}
	if config.Checks == nil {
		config.Checks = check.NewRecorder()
	}
	if config.Logger == nil {
		config.Logger = logging.Discard()
	}

	thresholds, err := check.ParseThresholds(config.Config.Thresholds)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ConfigName:       config.Config.Name,
		StaffURL:         config.Config.StaffURL,
		VUs:              config.Config.VUs,
		StartedAt:        time.Now(),
		Status:           StatusRunning,
		ChecksRate:       1,
		ThresholdsPassed: true,
	}
	if config.Config.ID > 0 {
		run.ConfigID = &config.Config.ID
	}
	if err := manager.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	stats := NewStats()
	stats.TotalIterations = config.Config.Iterations

	var limiter *rate.Limiter
	if ips := config.Config.IterationsPerSecond; ips > 0 {
		limiter = rate.NewLimiter(rate.Limit(ips), 1)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Executor{
		config:        config,
		manager:       manager,
		run:           run,
		stats:         stats,
		thresholds:    thresholds,
		limiter:       limiter,
		ctx:           ctx,
		cancelFunc:    cancel,
		taskChan:      make(chan *IterationTask, config.Config.VUs*2),
		resultChan:    make(chan *IterationResult, config.Config.VUs*2),
		collectorDone: make(chan struct{}),
		metricsBuf:    make([]*IterationMetric, 0, metricsBufferSize),
	}, nil
}

// Start begins the load test execution
func (e *Executor) Start() {
	e.testStart = time.Now()
	cfg := e.config.Config

	e.config.Logger.Info("starting load test",
		"run_id", e.run.ID,
		"vus", cfg.VUs,
		"iterations", cfg.Iterations,
		"ramp_up", cfg.GetRampUpDuration(),
		"max_duration", cfg.GetMaxDuration(),
	)

	e.workersReady.Add(cfg.VUs)
	for vu := 1; vu <= cfg.VUs; vu++ {
		e.wg.Add(1)
		go e.worker(vu, e.rampUpOffset(vu))
	}

	go e.collectResults()

	// Schedule only once every VU is listening so the queue is never
	// closed before a worker started.
	go func() {
		done := make(chan struct{})
		go func() {
			e.workersReady.Wait()
			close(done)
		}()

		select {
		case <-done:
			e.scheduleIterations()
		case <-e.ctx.Done():
			return
		}
	}()

	if d := cfg.GetMaxDuration(); d > 0 {
		go e.durationTimer(d)
	}
}

// rampUpOffset spreads VU start times evenly over the ramp-up duration
func (e *Executor) rampUpOffset(vu int) time.Duration {
	rampUp := e.config.Config.GetRampUpDuration()
	if rampUp <= 0 {
		return 0
	}
	return rampUp * time.Duration(vu-1) / time.Duration(e.config.Config.VUs)
}

// durationTimer cancels the test after the specified duration
func (e *Executor) durationTimer(duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		e.durationReached.Store(true)
		e.cancelFunc()
	case <-e.ctx.Done():
	}
}

// Stop cancels the load test execution
func (e *Executor) Stop() {
	e.cancelFunc()
	e.wg.Wait()
	e.closeResultChan()
	<-e.collectorDone
	e.finalize(StatusCancelled)
}

// StopWithContext cancels the load test execution with a timeout
// Returns an error if VUs don't finish within the context deadline
func (e *Executor) StopWithContext(ctx context.Context) error {
	e.cancelFunc()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.closeResultChan()
		<-e.collectorDone
		e.finalize(StatusCancelled)
		return nil
	case <-ctx.Done():
		// Workers may still deliver results; close the channel once they are gone.
		go func() {
			<-done
			e.closeResultChan()
		}()
		e.finalize(StatusCancelledTimeout)
		return ctx.Err()
	}
}

// closeResultChan safely closes the result channel (only once)
func (e *Executor) closeResultChan() {
	e.closeOnce.Do(func() {
		close(e.resultChan)
	})
}

// Wait waits for the load test to complete and finalizes the run
func (e *Executor) Wait() error {
	e.wg.Wait()
	e.closeResultChan()
	<-e.collectorDone

	status := e.resolveStatus()
	// releases the duration timer
	e.cancelFunc()
	return e.finalize(status)
}

func (e *Executor) resolveStatus() string {
	e.statsMu.Lock()
	completed := e.stats.CompletedIterations
	failures := e.stats.FailureCount
	e.statsMu.Unlock()

	switch {
	case completed < e.config.Config.Iterations && !e.durationReached.Load():
		return StatusCancelled
	case completed > 0 && failures == completed:
		return StatusFailed
	default:
		// Reaching the max duration still counts as completed
		return StatusCompleted
	}
}

// GetStats returns the current statistics (thread-safe)
func (e *Executor) GetStats() *Stats {
	passes, fails := e.config.Checks.Totals()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	return &Stats{
		TotalIterations:     e.config.Config.Iterations,
		CompletedIterations: e.stats.CompletedIterations,
		FailureCount:        e.stats.FailureCount,
		SuccessCount:        e.stats.SuccessCount,
		ActiveVUs:           int(e.activeVUs.Load()),
		TotalDurationMs:     e.stats.TotalDurationMs,
		MinDurationMs:       e.stats.MinDurationMs,
		MaxDurationMs:       e.stats.MaxDurationMs,
		Durations:           append([]int64(nil), e.stats.Durations...),
		ChecksPassed:        passes,
		ChecksFailed:        fails,
	}
}

// GetRun returns a snapshot of the run record
func (e *Executor) GetRun() *Run {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	run := *e.run
	run.FailedThresholds = append([]string(nil), e.run.FailedThresholds...)
	return &run
}

// IsExecutionComplete returns true if all iterations have been processed or context cancelled
func (e *Executor) IsExecutionComplete() bool {
	select {
	case <-e.ctx.Done():
		return true
	default:
	}

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.iterationsSent > 0 && e.stats.CompletedIterations >= e.config.Config.Iterations
}

// worker is one VU pulling iterations from the shared queue
func (e *Executor) worker(vu int, offset time.Duration) {
	defer e.wg.Done()
	e.workersReady.Done()

	if offset > 0 {
		timer := time.NewTimer(offset)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	iteration := 0
	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.taskChan:
			if !ok {
				return
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(e.ctx); err != nil {
					return
				}
			}

			result := e.runIteration(vu, iteration, task)
			iteration++

			// The collector drains until every worker exited, so this never blocks forever.
			e.resultChan <- result
		}
	}
}

func (e *Executor) runIteration(vu, iteration int, task *IterationTask) *IterationResult {
	timeout := e.config.Config.GetIterationTimeout()
	ctx, cancel := context.WithTimeout(e.ctx, timeout)
	defer cancel()

	e.activeVUs.Add(1)
	e.config.Metrics.VUActive(1)
	start := time.Now()
	err := e.safeIterate(ctx, vu, iteration)
	duration := time.Since(start)
	e.config.Metrics.VUActive(-1)
	e.activeVUs.Add(-1)

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("iteration timed out after %s: %w", timeout, err)
	}

	e.config.Metrics.ObserveIteration(duration, err)
	if err != nil {
		e.config.Logger.Error("iteration failed", "vu", vu, "iteration", iteration, "error", err)
	} else {
		e.config.Logger.Debug("iteration done", "vu", vu, "iteration", iteration, "duration", duration)
	}

	return &IterationResult{
		SequenceNum: task.SequenceNum,
		VU:          vu,
		Iteration:   iteration,
		DurationMs:  duration.Milliseconds(),
		ElapsedMs:   time.Since(e.testStart).Milliseconds(),
		Error:       err,
		Timestamp:   time.Now(),
	}
}

// safeIterate turns a panicking iteration into a failed one
func (e *Executor) safeIterate(ctx context.Context, vu, iteration int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()
	return e.config.Iterate(ctx, vu, iteration)
}

// scheduleIterations queues every iteration for the VU pool
func (e *Executor) scheduleIterations() {
	defer close(e.taskChan)

	for i := 0; i < e.config.Config.Iterations; i++ {
		select {
		case <-e.ctx.Done():
			return
		case e.taskChan <- &IterationTask{SequenceNum: i}:
			e.statsMu.Lock()
			e.iterationsSent++
			e.statsMu.Unlock()
		}
	}
}

// collectResults aggregates iteration results and persists them in batches
func (e *Executor) collectResults() {
	defer close(e.collectorDone)

	for result := range e.resultChan {
		e.statsMu.Lock()
		e.stats.AddResult(result.DurationMs, result.Error != nil)
		e.statsMu.Unlock()

		metric := &IterationMetric{
			RunID:      e.run.ID,
			VU:         result.VU,
			Iteration:  result.Iteration,
			Timestamp:  result.Timestamp,
			ElapsedMs:  result.ElapsedMs,
			DurationMs: result.DurationMs,
		}
		if result.Error != nil {
			metric.ErrorMessage = result.Error.Error()
		}

		e.metricsBuf = append(e.metricsBuf, metric)
		if len(e.metricsBuf) >= metricsBufferSize {
			e.flushMetrics()
		}
	}

	e.flushMetrics()
}

// flushMetrics writes buffered iteration metrics to the database
func (e *Executor) flushMetrics() {
	if len(e.metricsBuf) == 0 {
		return
	}

	if err := e.manager.SaveIterationMetricsBatch(e.metricsBuf); err != nil {
		e.config.Logger.Error("failed to save iteration metrics", "run_id", e.run.ID, "error", err)
	}

	e.metricsBuf = e.metricsBuf[:0]
}

// finalize completes the run record with final statistics, check totals
// and the threshold verdict. Only the first call has any effect.
func (e *Executor) finalize(status string) error {
	e.finalizeOnce.Do(func() {
		checks := e.config.Checks
		passes, fails := checks.Totals()
		checksRate := checks.Rate()
		failed := check.EvaluateAll(e.thresholds, checksRate)

		e.statsMu.Lock()
		now := time.Now()
		e.run.CompletedAt = &now
		e.run.Status = status
		e.run.TotalIterationsSent = e.iterationsSent
		e.run.TotalIterationsCompleted = e.stats.CompletedIterations
		e.run.TotalFailures = e.stats.FailureCount
		e.run.AvgDurationMs = e.stats.AvgDurationMs()
		e.run.MinDurationMs = e.stats.Min()
		e.run.MaxDurationMs = e.stats.Max()
		e.run.P50DurationMs = e.stats.P50()
		e.run.P95DurationMs = e.stats.P95()
		e.run.P99DurationMs = e.stats.P99()
		e.run.ChecksPassed = passes
		e.run.ChecksFailed = fails
		e.run.ChecksRate = checksRate
		e.run.ThresholdsPassed = len(failed) == 0
		e.run.FailedThresholds = failed
		run := *e.run
		e.statsMu.Unlock()

		e.finalizeErr = errors.Join(
			e.manager.UpdateRun(&run),
			e.manager.SaveCheckResults(run.ID, checks.Summary()),
		)
		if e.finalizeErr != nil {
			e.config.Logger.Error("failed to update run record", "run_id", run.ID, "error", e.finalizeErr)
		}

		e.config.Logger.Info("load test finished",
			"run_id", run.ID,
			"status", run.Status,
			"completed", run.TotalIterationsCompleted,
			"failures", run.TotalFailures,
			"checks_rate", run.ChecksRate,
			"thresholds_passed", run.ThresholdsPassed,
		)
	})
	return e.finalizeErr
}
