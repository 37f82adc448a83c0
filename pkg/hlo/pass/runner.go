// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pass

import (
	"github.com/gomlx/hlopasses/internal/workerspool"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/pkg/errors"
)

// PipelineFactory creates a new Pipeline. It is called once per module optimized by RunModules, so
// pipelines (and their passes) are never shared between goroutines.
type PipelineFactory func() (*Pipeline, error)

// ModuleResult is the outcome of optimizing one module with RunModules.
type ModuleResult struct {
	Module *hlo.Module
	Report *Report
	Err    error
}

// RunModules optimizes the modules concurrently, with at most parallelism modules at a time (0 runs them
// sequentially, -1 without limit). Each module gets its own pipeline, created with factory.
//
// If onDone is not nil, it is called after each module is optimized, from the goroutine that optimized it.
// Results are returned in the same order as the modules.
func RunModules(factory PipelineFactory, modules []*hlo.Module, parallelism int, onDone func(index int, result ModuleResult)) []ModuleResult {
	results := make([]ModuleResult, len(modules))
	pool := workerspool.NewWithParallelism(parallelism)
	for ii, m := range modules {
		pool.WaitToStart(func() {
			result := ModuleResult{Module: m}
			pipeline, err := factory()
			if err != nil {
				result.Err = errors.WithMessagef(err, "creating pipeline for module %q", m.Name())
			} else {
				result.Report, result.Err = pipeline.Optimize(m)
			}
			results[ii] = result
			if onDone != nil {
				onDone(ii, result)
			}
		})
	}
	pool.Wait()
	return results
}
