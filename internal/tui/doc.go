/*
Package tui implements the live progress view of a load test run.

# Architecture

The view follows the Bubble Tea Model-Update-View pattern:
  - Model: the polled executor and the last rendered stats
  - Update: ticks, window resizes and the cancel keys
  - View: progress bar, iteration counters, durations and checks rate

The model polls its Source every PollInterval, the same way a run is
observed from the command line. Pressing q, esc or ctrl+c stops the run
gracefully; the view stays up until every VU has finished its iteration.
*/
package tui
