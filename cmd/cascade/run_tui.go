package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ShayCichocki/cascade/internal/api"
	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/internal/state"
	"github.com/ShayCichocki/cascade/internal/tui"
	"github.com/ShayCichocki/cascade/pkg/models"
)

type runResult struct {
	records []models.ResultRecord
	report  orchestrator.Report
}

// runWithTUI runs execute while the TUI shows its events. Quitting the TUI
// cancels the run, which then drains its in-flight tasks before returning.
func runWithTUI(ctx context.Context, events *orchestrator.EventEmitter, tracker *api.TokenTracker,
	execute func(context.Context) ([]models.ResultRecord, orchestrator.Report)) (res []models.ResultRecord, rep orchestrator.Report, retErr error) {

	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program, _ := tui.NewProgram(cancel)
	go tui.Forward(program, events.Events())

	runDone := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				retErr = fmt.Errorf("PANIC in run: %v", r)
				runDone <- runResult{}
			}
		}()
		records, report := execute(ctx)
		runDone <- runResult{records: records, report: report}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		_, err := program.Run()
		tuiDone <- err
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	sendUsage := func() {
		u := tracker.Usage()
		program.Send(tui.UsageMsg{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, CostUSD: u.CostUSD})
	}

	for {
		select {
		case <-ticker.C:
			sendUsage()

		case r := <-runDone:
			events.Close()
			sendUsage()
			counts := models.CountRecords(r.records)
			program.Send(tui.RunDoneMsg{
				Success: runStatus(r.records, r.report) == state.RunCompleted,
				Message: fmt.Sprintf("%d of %d tasks completed", counts.Completed, counts.Total),
			})
			// Wait for user to quit TUI (press q) so they can see the result
			if err := <-tuiDone; err != nil {
				return r.records, r.report, fmt.Errorf("tui: %w", err)
			}
			return r.records, r.report, retErr

		case err := <-tuiDone:
			// The user quit early; the run was cancelled and is draining.
			cancel()
			r := <-runDone
			events.Close()
			if err != nil {
				return r.records, r.report, fmt.Errorf("tui: %w", err)
			}
			return r.records, r.report, retErr
		}
	}
}
