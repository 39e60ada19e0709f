package cmd

import (
	"context"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/dispatch"
	"github.com/cyberbrain/orchestrator/internal/gpu"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/tasks"
	"github.com/cyberbrain/orchestrator/internal/worker"
	"github.com/urfave/cli/v2"
)

// shutdownDrainTimeout bounds how long a dispatcher or agent executor waits
// for an in-flight task.Execute/Execute call to return once a shutdown
// signal arrives, before abandoning it to the next instance's claim-TTL
// recovery.
const shutdownDrainTimeout = 60 * time.Second

var dispatcherFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "interval",
		Aliases: []string{"i"},
		Value:   10 * time.Second,
		Usage:   "Poll interval between dispatcher ticks",
		EnvVars: []string{"DISPATCHER_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "claim-ttl",
		Aliases: []string{"t"},
		Value:   5 * time.Minute,
		Usage:   "Lease duration a claimed JobQueueItem is held for before it expires",
		EnvVars: []string{"DISPATCHER_CLAIM_TTL"},
	},
	&cli.StringFlag{
		Name:    "claimant",
		Aliases: []string{"c"},
		Usage:   "Stable identifier for this dispatcher instance (defaults to a generated id)",
		EnvVars: []string{"DISPATCHER_CLAIMANT"},
	},
	&cli.IntFlag{
		Name:    "max-claim",
		Value:   10,
		Usage:   "Maximum number of pending JobQueueItems claimed per tick",
		EnvVars: []string{"DISPATCHER_MAX_CLAIM"},
	},
}

var DispatcherCommand = &cli.Command{
	Name:  "run-dispatcher",
	Usage: "Run the job queue dispatcher: claim queued jobs and execute them (§4.G)",
	Flags: append(append(append([]cli.Flag{}, dbFlags...), dispatcherFlags...), metricsAddrFlag),
	Action: func(ctx *cli.Context) error {
		return runDispatcher(ctx)
	},
}

func runDispatcher(ctx *cli.Context) error {
	st, cleanup, err := initStore()
	if err != nil {
		return err
	}
	defer cleanup()
	serveMetrics(ctx.String("metrics-addr"))

	clk := clock.System{}
	hostRegistry := hosts.New(st, clk, hosts.NewDockerProber(), 30*time.Second, 5*time.Minute)
	hostRegistry.Start(context.Background())
	defer hostRegistry.Stop()

	gpuRegistry := gpu.New(st, clk)
	orchestrator := worker.NewOrchestrator(st, gpuRegistry, worker.DefaultRunnerFactory())
	taskRegistry := tasks.NewRegistry()
	taskDeps := buildTaskDeps(st, clk, hostRegistry, gpuRegistry, orchestrator)
	notifier := buildNotifier(st)

	lifecycle := worker.NewLifecycleManager(shutdownDrainTimeout)
	d := dispatch.New(st, clk, hostRegistry, taskRegistry, taskDeps, notifier, dispatch.Config{
		SelfID:       ctx.String("claimant"),
		PollInterval: ctx.Duration("interval"),
		MaxClaim:     ctx.Int("max-claim"),
		ClaimTTL:     ctx.Duration("claim-ttl"),
	}).WithLifecycle(lifecycle)

	runCtx, cancel := context.WithCancel(context.Background())
	lifecycle.SetupSignalHandlers(runCtx, cancel)

	d.Run(runCtx)
	return nil
}
