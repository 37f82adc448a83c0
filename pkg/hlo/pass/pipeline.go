// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pass

import (
	"fmt"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// DefaultMaxSweeps is the default cap on the number of sweeps of a Pipeline.
const DefaultMaxSweeps = 25

// Pipeline runs an ordered list of passes over a module repeatedly, until a sweep (one run of every pass,
// in order) changes nothing, or until the maximum number of sweeps is reached.
//
// A Pipeline is itself a Pass, so pipelines can be nested.
type Pipeline struct {
	name      string
	passes    []Pass
	maxSweeps int
	verify    bool
	rollback  bool
}

// NewPipeline creates a pipeline with the given passes, to which more can be added with AddPasses.
//
// By default, it runs at most DefaultMaxSweeps sweeps, verifies the module after every pass that changed it,
// and restores the module to its state before a failing pass.
func NewPipeline(name string, passes ...Pass) *Pipeline {
	return &Pipeline{
		name:      name,
		passes:    passes,
		maxSweeps: DefaultMaxSweeps,
		verify:    true,
		rollback:  true,
	}
}

// AddPasses appends passes to the pipeline. It returns the Pipeline itself, so configuration calls can be
// cascaded.
func (p *Pipeline) AddPasses(passes ...Pass) *Pipeline {
	p.passes = append(p.passes, passes...)
	return p
}

// WithMaxSweeps sets the maximum number of sweeps. It panics if maxSweeps < 1.
func (p *Pipeline) WithMaxSweeps(maxSweeps int) *Pipeline {
	if maxSweeps < 1 {
		exceptions.Panicf("Pipeline.WithMaxSweeps(%d): the pipeline needs at least one sweep", maxSweeps)
	}
	p.maxSweeps = maxSweeps
	return p
}

// WithVerifier sets whether to verify the module after every pass that changed it. A verification failure
// is a failure of the pass.
func (p *Pipeline) WithVerifier(verify bool) *Pipeline {
	p.verify = verify
	return p
}

// WithRollback sets whether to snapshot the module before each pass, and restore it if the pass fails.
// Without it, a failing pass may leave the module partially transformed.
func (p *Pipeline) WithRollback(rollback bool) *Pipeline {
	p.rollback = rollback
	return p
}

// Name implements Pass.
func (p *Pipeline) Name() string { return p.name }

// Passes returns the passes of the pipeline, in order.
func (p *Pipeline) Passes() []Pass { return append([]Pass(nil), p.passes...) }

// MaxSweeps returns the maximum number of sweeps.
func (p *Pipeline) MaxSweeps() int { return p.maxSweeps }

// Run implements Pass. See Optimize for the details.
func (p *Pipeline) Run(m *hlo.Module) (bool, error) {
	report, err := p.Optimize(m)
	return report.Changed, err
}

// PassRun describes one run of a pass.
type PassRun struct {
	Pass    string
	Sweep   int
	Changed bool
	Elapsed time.Duration
	Err     error
}

// Report of a Pipeline run.
type Report struct {
	// RunID identifies the run in logs.
	RunID    uuid.UUID
	Pipeline string
	Module   string

	// Changed is whether any pass changed the module.
	Changed bool

	// Sweeps is the number of sweeps run.
	Sweeps int

	// Capped is set if the pipeline stopped because it reached the maximum number of sweeps while passes
	// were still changing the module. This is not an error: the module is valid, but possibly not fully
	// optimized.
	Capped bool

	// Runs lists every run of every pass, in order.
	Runs    []PassRun
	Elapsed time.Duration
}

// ChangedBy returns the names of the passes that changed the module, in order of first change, without
// repetition.
func (r *Report) ChangedBy() []string {
	var names []string
	seen := make(map[string]bool)
	for _, run := range r.Runs {
		if run.Changed && !seen[run.Pass] {
			seen[run.Pass] = true
			names = append(names, run.Pass)
		}
	}
	return names
}

// String implements fmt.Stringer with a one-line summary.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pipeline %q on module %q: ", r.Pipeline, r.Module)
	if r.Changed {
		fmt.Fprintf(&sb, "changed by [%s]", strings.Join(r.ChangedBy(), ", "))
	} else {
		sb.WriteString("unchanged")
	}
	fmt.Fprintf(&sb, ", %d sweep(s) in %s", r.Sweeps, r.Elapsed)
	if r.Capped {
		sb.WriteString(" (capped)")
	}
	return sb.String()
}

// PassError is returned by the Pipeline when one of its passes fails.
type PassError struct {
	Pass  string
	Sweep int
	Err   error
}

// Error implements error.
func (e *PassError) Error() string {
	return fmt.Sprintf("pass %q failed in sweep %d: %v", e.Pass, e.Sweep, e.Err)
}

// Unwrap returns the error of the pass, so the error category (see package status) can be checked.
func (e *PassError) Unwrap() error { return e.Err }

// Optimize runs the pipeline on the module and returns a report of the run.
//
// The first pass failure aborts the run, and is returned as a *PassError along with the report of the passes
// run so far. Panics inside a pass are converted to Internal errors. If rollback is enabled (the default),
// the module is restored to its state before the failing pass: pointers to its computations and instructions
// taken before the run are then no longer valid.
func (p *Pipeline) Optimize(m *hlo.Module) (*Report, error) {
	report := &Report{
		RunID:    uuid.New(),
		Pipeline: p.name,
		Module:   m.Name(),
	}
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()
	klog.V(1).Infof("pipeline %q (run %s): optimizing module %q with %d passes", p.name, report.RunID, m.Name(), len(p.passes))

	for sweep := range p.maxSweeps {
		report.Sweeps++
		sweepChanged := false
		for _, ps := range p.passes {
			run := p.runPass(m, ps, sweep)
			report.Runs = append(report.Runs, run)
			if run.Err != nil {
				klog.V(1).Infof("pipeline %q (run %s): pass %q failed: %v", p.name, report.RunID, run.Pass, run.Err)
				return report, &PassError{Pass: run.Pass, Sweep: sweep, Err: run.Err}
			}
			sweepChanged = sweepChanged || run.Changed
		}
		report.Changed = report.Changed || sweepChanged
		if !sweepChanged {
			klog.V(1).Infof("pipeline %q (run %s): fixed point reached after %d sweep(s)", p.name, report.RunID, report.Sweeps)
			return report, nil
		}
	}
	report.Capped = true
	klog.Warningf("pipeline %q (run %s): module %q still changing after %d sweeps, stopping", p.name, report.RunID, m.Name(), p.maxSweeps)
	return report, nil
}

// runPass runs one pass, with verification, schedule update and rollback as configured.
func (p *Pipeline) runPass(m *hlo.Module, ps Pass, sweep int) (run PassRun) {
	run.Pass = ps.Name()
	run.Sweep = sweep
	var snapshot *hlo.Module
	if p.rollback {
		snapshot = m.Clone()
	}
	start := time.Now()
	defer func() {
		run.Elapsed = time.Since(start)
		if run.Err != nil && snapshot != nil {
			m.Restore(snapshot)
			run.Changed = false
		}
	}()

	panicErr := exceptions.TryCatch[error](func() {
		run.Changed, run.Err = ps.Run(m)
	})
	if panicErr != nil {
		run.Err = status.AsInternal(panicErr, "pass %q panicked", run.Pass)
		return
	}
	if run.Err != nil || !run.Changed {
		return
	}
	klog.V(1).Infof("pass %q changed module %q in sweep %d", run.Pass, m.Name(), sweep)
	if schedule := m.Schedule(); schedule != nil {
		if err := schedule.Update(); err != nil {
			run.Err = status.AsInternal(err, "updating schedule after pass %q", run.Pass)
			return
		}
	}
	if p.verify {
		if err := m.Verify(); err != nil {
			run.Err = status.AsInternal(err, "module invalid after pass %q", run.Pass)
		}
	}
	return
}
