// Package check counts named pass/fail assertions across a run and evaluates
// thresholds against the resulting pass rate.
package check

import (
	"sync"
)

// Result is the tally of one named check
type Result struct {
	Name   string `json:"name" yaml:"name"`
	Passes int    `json:"passes" yaml:"passes"`
	Fails  int    `json:"fails" yaml:"fails"`
}

// Total returns passes + fails
func (r Result) Total() int {
	return r.Passes + r.Fails
}

// Observer is notified of every recorded check
type Observer func(name string, ok bool)

// Recorder accumulates check results. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	results  map[string]*Result
	order    []string
	observer Observer
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{results: make(map[string]*Result)}
}

// SetObserver installs a callback invoked after each check
func (r *Recorder) SetObserver(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = obs
}

// Check records the outcome of a named check and returns ok
func (r *Recorder) Check(name string, ok bool) bool {
	r.mu.Lock()
	res, exists := r.results[name]
	if !exists {
		res = &Result{Name: name}
		r.results[name] = res
		r.order = append(r.order, name)
	}
	if ok {
		res.Passes++
	} else {
		res.Fails++
	}
	obs := r.observer
	r.mu.Unlock()

	if obs != nil {
		obs(name, ok)
	}
	return ok
}

// Summary returns a copy of all results in first-seen order
func (r *Recorder) Summary() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.results[name])
	}
	return out
}

// Totals returns the total passes and fails across all checks
func (r *Recorder) Totals() (passes, fails int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		passes += res.Passes
		fails += res.Fails
	}
	return passes, fails
}

// Rate returns the pass rate. A run with no checks has rate 1.
func (r *Recorder) Rate() float64 {
	passes, fails := r.Totals()
	if passes+fails == 0 {
		return 1
	}
	return float64(passes) / float64(passes+fails)
}
