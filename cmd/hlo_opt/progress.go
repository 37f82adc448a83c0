// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// progressDisplay shows a progress bar of the modules optimized so far.
// It is safe for concurrent use: modules are optimized in parallel.
type progressDisplay struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	output  *termenv.Output
	failed  int
	changed int
}

func newProgressDisplay(numModules int) *progressDisplay {
	p := &progressDisplay{output: termenv.NewOutput(os.Stderr)}
	p.output.HideCursor()
	p.bar = progressbar.NewOptions(numModules,
		progressbar.OptionSetDescription("optimizing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("modules"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	return p
}

func (p *progressDisplay) done(path string, result pass.ModuleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case result.Err != nil:
		p.failed++
	case result.Report != nil && result.Report.Changed:
		p.changed++
	}
	p.bar.Describe(fmt.Sprintf("optimizing (%d changed, %d failed)", p.changed, p.failed))
	_ = p.bar.Add(1)
}

func (p *progressDisplay) finish() {
	_ = p.bar.Finish()
	p.output.ShowCursor()
	fmt.Fprintln(os.Stderr)
}

var (
	headerStyle      = lipgloss.NewStyle().Reverse(true).Padding(0, 2).Align(lipgloss.Center)
	cellStyle        = lipgloss.NewStyle().Padding(0, 1)
	numberStyle      = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	tableBorderColor = "#705090"
	titleStyle       = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// printReports prints a table with one row per module.
func printReports(paths []string, results []pass.ModuleResult) {
	fmt.Println(titleStyle.Render("Optimization reports"))
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 2 || col == 3:
				return numberStyle
			}
			return cellStyle
		}).
		Headers("File", "Module", "Sweeps", "Time", "Changed by")
	var totalElapsed time.Duration
	var numChanged int
	for ii, result := range results {
		path := paths[ii]
		if result.Err != nil {
			table.Row(path, moduleName(result), "-", "-", "error: "+result.Err.Error())
			continue
		}
		report := result.Report
		totalElapsed += report.Elapsed
		changedBy := "unchanged"
		if report.Changed {
			numChanged++
			changedBy = strings.Join(report.ChangedBy(), ", ")
		}
		sweeps := humanize.Comma(int64(report.Sweeps))
		if report.Capped {
			sweeps += " (capped)"
		}
		table.Row(path, report.Module, sweeps, report.Elapsed.Round(time.Microsecond).String(), changedBy)
	}
	fmt.Println(table.Render())
	fmt.Printf("%s of %s modules changed, total pipeline time %s\n",
		humanize.Comma(int64(numChanged)), humanize.Comma(int64(len(results))), totalElapsed.Round(time.Millisecond))
}

func moduleName(result pass.ModuleResult) string {
	if result.Module == nil {
		return "?"
	}
	return result.Module.Name()
}
