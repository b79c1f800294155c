// Package tui provides the live progress view for cascade runs.
//
// The view is a bubbletea program fed with orchestrator events:
//
//	program, app := tui.NewProgram(cancel)
//	go tui.Forward(program, emitter.Events())
//	_, err := program.Run()
//
// Every node of the run, nested ones included, gets a row keyed by its
// path. The program keeps running after the run finishes until the user
// presses q, so the final state stays on screen.
package tui
