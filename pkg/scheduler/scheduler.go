// Package scheduler owns futures and their two scheduling disciplines:
// eager (spawn runs the child immediately) and deferred-FIFO (spawn
// enqueues; futures run in spawn order at the next cooperative point).
// Deterministic runs force deferred-FIFO so completion timing is never
// observable.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/lumen-lang/lumen/pkg/value"
)

// Policy selects the scheduling discipline.
type Policy int

const (
	Eager Policy = iota
	DeferredFifo
)

// ParsePolicy maps the module-metadata string to a Policy, defaulting
// to Eager for unrecognized input.
func ParsePolicy(s string) Policy {
	if s == "deferred_fifo" {
		return DeferredFifo
	}
	return Eager
}

func (p Policy) String() string {
	if p == DeferredFifo {
		return "deferred_fifo"
	}
	return "eager"
}

// Task runs one future's body to completion. The VM supplies a closure
// invocation here; the single-threaded cooperative model means a task
// runs without preemption.
type Task func() (value.Value, error)

// ErrTimeout reports a future that missed its budget.
var ErrTimeout = errors.New("future timed out")

type job struct {
	fut *value.Future
	run Task
}

// Scheduler manages the future queue for one run.
type Scheduler struct {
	policy Policy
	queue  []*job
	nextID int64
}

// New returns a Scheduler with the given policy.
func New(policy Policy) *Scheduler {
	return &Scheduler{policy: policy}
}

// Policy returns the active discipline.
func (s *Scheduler) Policy() Policy { return s.policy }

// Spawn creates a future over run. Under Eager the task executes
// before Spawn returns; under DeferredFifo it is enqueued.
func (s *Scheduler) Spawn(run Task) value.Value {
	s.nextID++
	f := &value.Future{ID: s.nextID}
	j := &job{fut: f, run: run}
	if s.policy == Eager {
		s.execute(j)
	} else {
		s.queue = append(s.queue, j)
	}
	return value.FutureValue(f)
}

func (s *Scheduler) execute(j *job) {
	if j.fut.Done {
		return
	}
	res, err := j.run()
	j.fut.Done = true
	j.fut.Result = res
	j.fut.Err = err
}

// Drain runs every queued future in FIFO order, including futures
// spawned while draining.
func (s *Scheduler) Drain() {
	for len(s.queue) > 0 {
		j := s.queue[0]
		s.queue = s.queue[1:]
		s.execute(j)
	}
}

// runUntil drains the queue one job at a time until f completes or the
// queue empties.
func (s *Scheduler) runUntil(f *value.Future) {
	for !f.Done && len(s.queue) > 0 {
		j := s.queue[0]
		s.queue = s.queue[1:]
		s.execute(j)
	}
}

// Await resolves v: futures block (cooperatively) until complete, and
// collections are resolved recursively so no embedded future escapes
// an await.
func (s *Scheduler) Await(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KFuture:
		f := v.AsFuture()
		if !f.Done {
			s.runUntil(f)
		}
		if !f.Done {
			return value.Null, fmt.Errorf("await: future %d never completed", f.ID)
		}
		if f.Err != nil {
			return value.Null, f.Err
		}
		return s.Await(f.Result)
	case value.KList:
		elems := v.AsList()
		out := make([]value.Value, len(elems))
		for i, e := range elems {
			r, err := s.Await(e)
			if err != nil {
				return value.Null, err
			}
			out[i] = r
		}
		return value.List(out), nil
	case value.KTuple:
		elems := v.AsList()
		out := make([]value.Value, len(elems))
		for i, e := range elems {
			r, err := s.Await(e)
			if err != nil {
				return value.Null, err
			}
			out[i] = r
		}
		return value.Tuple(out), nil
	case value.KMap, value.KRecord:
		out := v
		for _, k := range v.MapKeys() {
			e, _ := v.MapGet(k)
			r, err := s.Await(e)
			if err != nil {
				return value.Null, err
			}
			if !value.Equal(e, r) {
				out = out.WithMapSet(k, r)
			}
		}
		return out, nil
	default:
		return v, nil
	}
}

// Parallel awaits every future in argument order and returns their
// results as a list; the first failure propagates.
func (s *Scheduler) Parallel(futs []value.Value) (value.Value, error) {
	out := make([]value.Value, len(futs))
	for i, f := range futs {
		r, err := s.Await(f)
		if err != nil {
			return value.Null, err
		}
		out[i] = r
	}
	return value.List(out), nil
}

// Race returns the first completion in deterministic scheduling order:
// queued futures run FIFO, and among already-completed futures the
// earliest argument wins. Wall-clock timing never participates; the
// argument-order tie-break is the documented deterministic rule.
func (s *Scheduler) Race(futs []value.Value) (value.Value, error) {
	for {
		for _, fv := range futs {
			f := fv.AsFuture()
			if f != nil && f.Done {
				if f.Err != nil {
					return value.Null, f.Err
				}
				return s.Await(f.Result)
			}
		}
		if len(s.queue) == 0 {
			// nothing left to run; fall back to awaiting the first argument
			if len(futs) == 0 {
				return value.Null, errors.New("race: no futures given")
			}
			return s.Await(futs[0])
		}
		j := s.queue[0]
		s.queue = s.queue[1:]
		s.execute(j)
	}
}

// Vote gathers every result and returns the first value (in argument
// order) whose canonical-equality count reaches threshold.
func (s *Scheduler) Vote(threshold int, futs []value.Value) (value.Value, error) {
	results := make([]value.Value, 0, len(futs))
	for _, f := range futs {
		r, err := s.Await(f)
		if err != nil {
			continue // a failed voter simply contributes no ballot
		}
		results = append(results, r)
	}
	for _, candidate := range results {
		count := 0
		for _, r := range results {
			if value.Equal(candidate, r) {
				count++
			}
		}
		if count >= threshold {
			return candidate, nil
		}
	}
	return value.Null, fmt.Errorf("vote: no value reached threshold %d", threshold)
}

// Select returns the first completion (in argument order) satisfying
// pred.
func (s *Scheduler) Select(pred func(value.Value) (bool, error), futs []value.Value) (value.Value, error) {
	for _, f := range futs {
		r, err := s.Await(f)
		if err != nil {
			continue
		}
		ok, err := pred(r)
		if err != nil {
			return value.Null, err
		}
		if ok {
			return r, nil
		}
	}
	return value.Null, errors.New("select: no completion satisfied the predicate")
}

// Timeout awaits f against a logical budget: under deferred-FIFO a
// future still pending once the queue has drained is treated as missed
// and dropped; a completed future returns its value. The millisecond
// budget is not read in either mode; in eager mode tasks have already
// run by the time Timeout is called.
func (s *Scheduler) Timeout(ms int64, fv value.Value) (value.Value, error) {
	f := fv.AsFuture()
	if f == nil {
		return fv, nil
	}
	if !f.Done {
		s.runUntil(f)
	}
	if !f.Done {
		s.dropFromQueue(f)
		return value.Null, ErrTimeout
	}
	if f.Err != nil {
		return value.Null, f.Err
	}
	_ = ms
	return s.Await(f.Result)
}

func (s *Scheduler) dropFromQueue(f *value.Future) {
	out := s.queue[:0]
	for _, j := range s.queue {
		if j.fut != f {
			out = append(out, j)
		}
	}
	s.queue = out
}
