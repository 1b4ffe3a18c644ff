// Package tui renders the progress of a verification run with Bubble Tea.
//
// The view shows a progress bar, the case running on each axis, the latest
// results and running totals. Pressing q cancels the run; the cases in
// flight still run their teardown before the view closes. Pressing y copies
// the results so far to the clipboard as JSON.
//
//	prog := tui.NewProgram(len(cases)*len(config.Axes), cancel)
//	go func() {
//	    _, err := runner.Run(ctx, config, cases) // runner reports to prog.Reporter()
//	    prog.Finish(err)
//	}()
//	err := prog.Run()
package tui
