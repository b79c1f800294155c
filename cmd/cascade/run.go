package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cascade/internal/api"
	"github.com/ShayCichocki/cascade/internal/config"
	"github.com/ShayCichocki/cascade/internal/graph"
	"github.com/ShayCichocki/cascade/internal/observability"
	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/internal/output"
	"github.com/ShayCichocki/cascade/internal/planfile"
	"github.com/ShayCichocki/cascade/internal/prompts"
	"github.com/ShayCichocki/cascade/internal/state"
	"github.com/ShayCichocki/cascade/pkg/models"
)

var (
	runPlan          string
	runSavePlan      string
	runWorkers       int
	runNestedWorkers int
	runDepth         int
	runStrict        bool
	runFuzzyRoles    bool
	runTUI           bool
	runOutput        string
	runNoSave        bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Decompose a task and run it",
	Long: `Run a task through the recursive decomposition engine.

The task is split into a root graph of dependent tasks. Each root task is
split again into sub-tasks assigned to generated roles, the sub-tasks run
in parallel as their dependencies complete, and their results are reduced
into the root task's result (--depth controls how many levels recurse).

With --plan, the root graph and its roles are read from a YAML plan file
instead of being generated; the task argument then defaults to the plan's
task. Results are written to task_results_{timestamp}.json and recorded in
the run history unless --no-save is given.

Stop a running job with Ctrl+C or 'cascade stop' from the same directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runPlan, "plan", "", "YAML plan file with the root tasks and roles")
	runCmd.Flags().StringVar(&runSavePlan, "save-plan", "", "Write the generated root graph to a plan file")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Concurrent root tasks (default from config, 5)")
	runCmd.Flags().IntVar(&runNestedWorkers, "nested-workers", 0, "Concurrent tasks per sub-graph (default from config, 3)")
	runCmd.Flags().IntVar(&runDepth, "depth", 0, "Levels of recursive decomposition (default from config, 1)")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Fail tasks whose generation steps give up instead of continuing with empty output")
	runCmd.Flags().BoolVar(&runFuzzyRoles, "fuzzy-roles", false, "Match assigned roles by substring when no exact match exists")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a terminal UI")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Directory for the results file (default from config, .)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Do not record the run in the history database")
}

// errRunIncomplete is returned when some tasks failed or never ran.
var errRunIncomplete = errors.New("run incomplete")

// applyRunFlags overrides config values with the flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers.Root = runWorkers
	}
	if flags.Changed("nested-workers") {
		cfg.Workers.Nested = runNestedWorkers
	}
	if flags.Changed("depth") {
		cfg.Recursion.MaxDepth = runDepth
	}
	if flags.Changed("strict") {
		cfg.Generation.Strict = runStrict
	}
	if flags.Changed("fuzzy-roles") {
		cfg.Roles.FuzzyMatch = runFuzzyRoles
	}
	if flags.Changed("output") {
		cfg.Output.Dir = runOutput
	}
	return cfg.Validate()
}

// engineOptions maps config onto engine options.
func engineOptions(cfg *config.Config) []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithRootWorkers(cfg.Workers.Root),
		orchestrator.WithNestedWorkers(cfg.Workers.Nested),
		orchestrator.WithMaxDepth(cfg.Recursion.MaxDepth),
		orchestrator.WithStrict(cfg.Generation.Strict),
		orchestrator.WithFuzzyRoles(cfg.Roles.FuzzyMatch),
	}
}

func runTask(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runTask: %v", r)
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	var plan *planfile.Plan
	if runPlan != "" {
		plan, err = planfile.Load(runPlan)
		if err != nil {
			return err
		}
	}

	task := ""
	if len(args) > 0 {
		task = args[0]
	} else if plan != nil {
		task = plan.Task
	}
	if task == "" {
		return errors.New("a task is required, either as an argument or as the plan's task")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, watcher, err := api.WatchStopSignal(ctx, cwd)
	if err != nil {
		log.Printf("[run] stop signal watcher disabled: %v", err)
	}
	defer watcher.Close()

	if err := observability.InitTracing("cascade", Version(), cfg.Tracing.File); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.ShutdownTracing(shutdownCtx); err != nil {
			log.Printf("[run] tracing shutdown: %v", err)
		}
	}()

	metrics := observability.NewMetrics("cascade")
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, metrics)
		defer srv.Close()
	}

	set, err := prompts.Load(cfg.Prompts.Dir)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	client, err := newBackend(cfg)
	if err != nil {
		return err
	}

	opts := engineOptions(cfg)
	opts = append(opts, orchestrator.WithMetrics(metrics))
	if os.Getenv("CASCADE_DEBUG") != "" {
		trace, err := orchestrator.TraceLogForDir(cwd)
		if err != nil {
			log.Printf("[run] debug trace disabled: %v", err)
		} else {
			defer trace.Close()
			opts = append(opts, orchestrator.WithTraceLog(trace))
		}
	}
	var events *orchestrator.EventEmitter
	if runTUI {
		events = orchestrator.NewEventEmitter(1000)
		opts = append(opts, orchestrator.WithEvents(events))
	}

	engine := orchestrator.NewEngine(newCapabilities(client, set, cfg, metrics), opts...)

	store, run := openHistory(cfg, task)
	if store != nil {
		defer store.Close()
	}

	g, book, err := rootGraph(ctx, engine, plan, task, cfg.Roles.FuzzyMatch)
	if err != nil {
		if store != nil {
			run.Status = state.RunFailed
			if ferr := store.FinishRun(run, nil); ferr != nil {
				log.Printf("[run] record failed run: %v", ferr)
			}
		}
		return err
	}
	if runSavePlan != "" && plan == nil {
		if err := saveGeneratedPlan(runSavePlan, task, g, book); err != nil {
			log.Printf("[run] %v", err)
		}
	}

	execute := func(ctx context.Context) ([]models.ResultRecord, orchestrator.Report) {
		return engine.Run(ctx, g, book)
	}

	var (
		records []models.ResultRecord
		report  orchestrator.Report
	)
	if runTUI {
		records, report, err = runWithTUI(ctx, events, client.Tracker(), execute)
		if err != nil {
			return err
		}
	} else {
		fmt.Printf("Running %d root tasks (depth %d, %d workers)...\n", g.Len(), engine.MaxDepth(), cfg.Workers.Root)
		records, report = execute(ctx)
	}

	output.LogRecords(records)

	resultsFile, err := output.WriteResultsFile(cfg.Output.Dir, records, time.Now())
	if err != nil {
		log.Printf("[run] %v", err)
	}

	usage := client.Tracker().Usage()
	summary := output.Summary{
		Records:     records,
		Report:      report,
		Nested:      nestedIncomplete(engine.Incomplete()),
		Usage:       &output.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, Calls: usage.Calls, CostUSD: usage.CostUSD},
		ResultsFile: resultsFile,
	}
	summary.Print(os.Stdout)

	status := runStatus(records, report)
	if store != nil {
		run.Status = status
		run.Counts = models.CountRecords(records)
		run.ResultsFile = resultsFile
		run.InputTokens, run.OutputTokens, run.CostUSD = usage.InputTokens, usage.OutputTokens, usage.CostUSD
		if data, err := json.Marshal(engine.Reports()); err == nil {
			run.Report = data
		}
		if err := store.FinishRun(run, records); err != nil {
			log.Printf("[run] record run: %v", err)
		} else {
			fmt.Printf("Run %s recorded\n", run.ID)
		}
	}

	if status != state.RunCompleted {
		return fmt.Errorf("%w: %s", errRunIncomplete, status)
	}
	return nil
}

// rootGraph loads the root graph from the plan, or generates it.
func rootGraph(ctx context.Context, engine *orchestrator.Engine, plan *planfile.Plan, task string, fuzzy bool) (*graph.TaskGraph, *orchestrator.RoleBook, error) {
	if plan == nil {
		return engine.PlanRoot(ctx, task)
	}

	g, err := plan.Graph()
	if err != nil {
		return nil, nil, fmt.Errorf("plan %s: %w", runPlan, err)
	}
	var book *orchestrator.RoleBook
	if len(plan.Roles) > 0 {
		book = orchestrator.NewRoleBook(plan.Roles, fuzzy)
	}
	return g, book, nil
}

func saveGeneratedPlan(path, task string, g *graph.TaskGraph, book *orchestrator.RoleBook) error {
	p := &planfile.Plan{Task: task, Tasks: g.Nodes()}
	if book != nil {
		p.Roles = book.Roles()
	}
	if err := planfile.Write(path, p); err != nil {
		return err
	}
	fmt.Printf("Plan written to %s\n", path)
	return nil
}

// openHistory records the start of the run. History is best effort: when
// the database cannot be opened the run continues unrecorded.
func openHistory(cfg *config.Config, task string) (state.StateStore, *state.Run) {
	if runNoSave {
		return nil, nil
	}

	db, err := state.Open(cfg.StatePath())
	if err != nil {
		log.Printf("[run] run history disabled: %v", err)
		return nil, nil
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		log.Printf("[run] run history disabled: %v", err)
		return nil, nil
	}

	run := &state.Run{ID: uuid.NewString(), Task: task, StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		db.Close()
		log.Printf("[run] run history disabled: %v", err)
		return nil, nil
	}
	return db, run
}

// runStatus classifies a finished run.
func runStatus(records []models.ResultRecord, report orchestrator.Report) state.RunStatus {
	if report.Cancelled {
		return state.RunCancelled
	}
	if !report.Complete() {
		return state.RunPartial
	}
	for _, r := range records {
		if !r.Succeeded() {
			return state.RunPartial
		}
	}
	return state.RunCompleted
}

// nestedIncomplete drops the root report, which the summary prints on its own.
func nestedIncomplete(reports []orchestrator.Report) []orchestrator.Report {
	var out []orchestrator.Report
	for _, r := range reports {
		if r.Depth > 0 {
			out = append(out, r)
		}
	}
	return out
}

// serveMetrics exposes the metrics registry at /metrics.
func serveMetrics(addr string, metrics *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server stopped: %v", err)
		}
	}()
	log.Printf("[metrics] serving on %s/metrics", addr)
	return srv
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the run in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		if err := api.SendKill(cwd); err != nil {
			return fmt.Errorf("send stop signal: %w", err)
		}
		fmt.Println("Stop signal sent")
		return nil
	},
}
