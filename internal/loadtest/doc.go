/*
Package loadtest runs the Koha scenario under concurrent virtual users and
persists the results.

# Overview

The loadtest package implements a shared-iterations executor:
  - A fixed pool of VUs pulls iterations from one queue
  - Optional ramp-up spreads VU start times
  - Optional iterations-per-second pacing (golang.org/x/time/rate)
  - Per-iteration timeout and an overall max duration
  - Check totals and threshold verdicts stored with the run
  - Database persistence of configs, runs, iterations and checks

# Architecture

1. Manager (manager.go): sqlite persistence for configs, runs, iterations and checks
2. Executor (executor.go): concurrent execution engine
3. Config (config.go): configuration and validation
4. Stats (stats.go): live aggregation and percentiles

# Executor Design

Worker lifecycle:
  1. Every VU signals ready, then waits for its ramp-up offset
  2. The scheduler queues all iterations once every VU is listening
  3. VUs run IterationFunc with a timeout derived from the executor context
  4. The result collector aggregates stats and batches inserts
  5. finalize stores the run summary exactly once

An iteration error never stops other VUs. Status is "completed" when the
queue drained or the max duration elapsed, "cancelled" on Stop or parent
cancellation, and "failed" when every finished iteration failed.

# Usage

	manager, err := loadtest.NewManager(dbPath)
	exec, err := loadtest.NewExecutor(ctx, &loadtest.ExecutionConfig{
		Config:  cfg,
		Iterate: scenario.Iterate,
		Checks:  checks,
	}, manager)
	exec.Start()
	err = exec.Wait()
	run := exec.GetRun()
*/
package loadtest
