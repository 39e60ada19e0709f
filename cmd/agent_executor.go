package cmd

import (
	"context"
	"time"

	"github.com/cyberbrain/orchestrator/internal/agent"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/gpu"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/tasks"
	"github.com/cyberbrain/orchestrator/internal/worker"
	"github.com/urfave/cli/v2"
)

var agentExecutorFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "interval",
		Aliases: []string{"i"},
		Value:   15 * time.Second,
		Usage:   "Poll interval between agent executor ticks",
		EnvVars: []string{"AGENT_EXECUTOR_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "ttl",
		Aliases: []string{"t"},
		Value:   5 * time.Minute,
		Usage:   "Reserved for a future AgentRun claim lease; unused until AgentRun carries claimed_by/claimed_until",
		EnvVars: []string{"AGENT_EXECUTOR_TTL"},
	},
	&cli.IntFlag{
		Name:    "max-claim",
		Value:   5,
		Usage:   "Maximum number of runnable AgentRuns claimed per tick",
		EnvVars: []string{"AGENT_EXECUTOR_MAX_CLAIM"},
	},
}

var AgentExecutorCommand = &cli.Command{
	Name:  "run-agent-executor",
	Usage: "Claim pending/approved AgentRuns and execute their step plans (§4.H)",
	Flags: append(append(append([]cli.Flag{}, dbFlags...), agentExecutorFlags...), metricsAddrFlag),
	Action: func(ctx *cli.Context) error {
		return runAgentExecutor(ctx)
	},
}

func runAgentExecutor(ctx *cli.Context) error {
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

	lifecycle := worker.NewLifecycleManager(shutdownDrainTimeout)
	executor := agent.New(st, clk, hostRegistry, taskRegistry, taskDeps)
	poller := agent.NewPoller(executor, st, agent.PollerConfig{
		PollInterval: ctx.Duration("interval"),
		MaxClaim:     ctx.Int("max-claim"),
	}).WithLifecycle(lifecycle)

	runCtx, cancel := context.WithCancel(context.Background())
	lifecycle.SetupSignalHandlers(runCtx, cancel)

	poller.Run(runCtx)
	return nil
}
