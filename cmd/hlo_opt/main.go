// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// hlo_opt runs a pipeline of optimization passes over HLO modules stored as serialized HloModuleProto files.
//
// Usage:
//
//	hlo_opt [flags] module.pb [more modules...]
//
// Files ending in ".pbtxt" or ".txt" are read (and written) in protobuf text format. Optimized modules are
// written to --output_dir, if given, with the same file name.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gomlx/hlopasses/pkg/core/distributed"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/gomlx/hlopasses/pkg/hlo/passes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagPasses = flag.String("passes", strings.Join(passes.DefaultPassNames, ","),
		"Comma-separated list of the passes to run, in order. See -list for the available ones.")
	flagList      = flag.Bool("list", false, "List the registered passes and exit.")
	flagMaxSweeps = flag.Int("max_sweeps", pass.DefaultMaxSweeps,
		"Maximum number of sweeps over the passes: the pipeline stops earlier if a sweep changes nothing.")
	flagVerify      = flag.Bool("verify", true, "Verify the modules after every pass that changes them.")
	flagParallelism = flag.Int("parallelism", runtime.NumCPU(),
		"Number of modules optimized concurrently. 0 optimizes them sequentially, -1 has no limit.")
	flagOutputDir = flag.String("output_dir", "", "Directory where to write the optimized modules. "+
		"If empty, nothing is written.")
	flagPlatform = flag.String("assign_devices", "",
		"If set, modules without a device assignment get one from the placer of this platform (e.g. \"cpu\").")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while optimizing.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagList {
		listPasses()
		return
	}
	paths := flag.Args()
	if len(paths) == 0 {
		klog.Errorf("Missing HLO module files to optimize. See 'hlo_opt -help'.")
		os.Exit(1)
	}
	if err := run(paths); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

// passNames parses the --passes flag.
func passNames() []string {
	var names []string
	for _, name := range strings.Split(*flagPasses, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// newPipeline creates the pipeline configured by the flags.
func newPipeline() (*pass.Pipeline, error) {
	pipeline, err := pass.NewPipelineFromNames("hlo_opt", passNames()...)
	if err != nil {
		return nil, err
	}
	return pipeline.WithMaxSweeps(*flagMaxSweeps).WithVerifier(*flagVerify), nil
}

func run(paths []string) error {
	// Fail early on unknown pass names.
	if _, err := newPipeline(); err != nil {
		return err
	}
	modules := make([]*hlo.Module, len(paths))
	for ii, path := range paths {
		m, err := loadModule(path)
		if err != nil {
			return err
		}
		if *flagPlatform != "" {
			if err = assignDevices(m, distributed.PlatformID(*flagPlatform)); err != nil {
				return errors.WithMessagef(err, "module %q from %q", m.Name(), path)
			}
		}
		modules[ii] = m
	}

	var progress *progressDisplay
	if *flagProgress {
		progress = newProgressDisplay(len(modules))
	}
	results := pass.RunModules(newPipeline, modules, *flagParallelism, func(index int, result pass.ModuleResult) {
		if progress != nil {
			progress.done(paths[index], result)
		}
	})
	if progress != nil {
		progress.finish()
	}
	printReports(paths, results)

	var firstErr error
	for ii, result := range results {
		if result.Err != nil {
			if firstErr == nil {
				firstErr = errors.WithMessagef(result.Err, "optimizing %q", paths[ii])
			}
			continue
		}
		if *flagOutputDir != "" {
			if err := saveModule(result.Module, filepath.Join(*flagOutputDir, filepath.Base(paths[ii]))); err != nil {
				return err
			}
		}
	}
	return firstErr
}

func isTextFormat(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".pbtxt" || ext == ".txt"
}

func loadModule(path string) (*hlo.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read HLO module from %q", path)
	}
	var m *hlo.Module
	if isTextFormat(path) {
		m, err = hlo.UnmarshalText(data)
	} else {
		m, err = hlo.Unmarshal(data)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", path)
	}
	klog.V(1).Infof("loaded module %q from %q: %d computations", m.Name(), path, m.NumComputations())
	return m, nil
}

func saveModule(m *hlo.Module, path string) error {
	var (
		data []byte
		err  error
	)
	if isTextFormat(path) {
		data, err = m.MarshalText()
	} else {
		data, err = m.Marshal()
	}
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output directory for %q", path)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write module %q to %q", m.Name(), path)
	}
	klog.V(1).Infof("saved module %q to %q", m.Name(), path)
	return nil
}

// assignDevices sets the device assignment of the module, if it doesn't have one yet.
func assignDevices(m *hlo.Module, platform distributed.PlatformID) error {
	cfg := m.Config()
	if cfg.DeviceAssignment != nil {
		return nil
	}
	assignment, err := distributed.AssignDevices(platform, cfg.NumReplicas(), cfg.NumComputations())
	if err != nil {
		return err
	}
	cfg.DeviceAssignment = assignment
	return m.SetConfig(cfg)
}

func listPasses() {
	defaults := make(map[string]bool)
	for _, name := range passes.DefaultPassNames {
		defaults[name] = true
	}
	for _, name := range pass.DefaultRegistry.Names() {
		marker := ""
		if defaults[name] {
			marker = " (default)"
		}
		fmt.Printf("%s%s\n", name, marker)
	}
}
