package metric

import (
	"fmt"
	"time"
)

// Result is the outcome of running a block list over one set of texts.
type Result struct {
	Scores Scores
	// Skipped lists kinds that had no registered function, in block order.
	Skipped []Kind
	// Dropped lists score names whose value was NaN or infinite.
	Dropped []string
}

// Observer is told how long each block took.
type Observer func(kind Kind, elapsed time.Duration)

type Dispatcher struct {
	registry *Registry
	observe  Observer
}

type DispatcherOption func(*Dispatcher)

// WithObserver installs a per-block timing hook.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observe = o }
}

func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	d := &Dispatcher{registry: registry}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Compute runs blocks in order and merges their scores; a later block
// overwrites an earlier block's score of the same name. An error from a
// scoring function aborts the computation.
func (d *Dispatcher) Compute(candidate, reference, source string, blocks []Block) (Result, error) {
	texts := Texts{Candidate: candidate, Reference: reference, Source: source}
	res := Result{Scores: Scores{}}
	for i, b := range blocks {
		fn, ok := d.registry.Lookup(b.Kind)
		if !ok || b.Params == nil {
			res.Skipped = append(res.Skipped, b.Kind)
			continue
		}
		start := time.Now()
		scores, err := fn(texts, b.Params)
		if d.observe != nil {
			d.observe(b.Kind, time.Since(start))
		}
		if err != nil {
			return Result{}, fmt.Errorf("metric block %d (%s): %w", i, b.Kind, err)
		}
		res.Scores.Merge(scores)
	}
	for name, v := range res.Scores {
		if !finite(v) {
			delete(res.Scores, name)
			res.Dropped = append(res.Dropped, name)
		}
	}
	return res, nil
}
