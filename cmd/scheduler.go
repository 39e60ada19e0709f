package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/scheduler"
	"github.com/urfave/cli/v2"
)

var schedulerFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "interval",
		Aliases: []string{"i"},
		Value:   30 * time.Second,
		Usage:   "Poll interval between scheduler ticks",
		EnvVars: []string{"SCHEDULER_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "claim-ttl",
		Aliases: []string{"t"},
		Value:   2 * time.Minute,
		Usage:   "Lease duration a claimed Schedule is held for before it expires",
		EnvVars: []string{"SCHEDULER_CLAIM_TTL"},
	},
	&cli.StringFlag{
		Name:    "claimant",
		Aliases: []string{"c"},
		Usage:   "Stable identifier for this scheduler instance (defaults to a generated id)",
		EnvVars: []string{"SCHEDULER_CLAIMANT"},
	},
	&cli.IntFlag{
		Name:    "max-claim",
		Value:   10,
		Usage:   "Maximum number of due Schedules claimed per tick",
		EnvVars: []string{"SCHEDULER_MAX_CLAIM"},
	},
}

var SchedulerCommand = &cli.Command{
	Name:  "run-scheduler",
	Usage: "Run the scheduler loop: discover due schedules and enqueue runs (§4.F)",
	Flags: append(append(append([]cli.Flag{}, dbFlags...), schedulerFlags...), metricsAddrFlag),
	Action: func(ctx *cli.Context) error {
		return runScheduler(ctx)
	},
}

func runScheduler(ctx *cli.Context) error {
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

	sched := scheduler.New(st, clk, hostRegistry, scheduler.Config{
		SelfID:       ctx.String("claimant"),
		PollInterval: ctx.Duration("interval"),
		MaxClaim:     ctx.Int("max-claim"),
		ClaimTTL:     ctx.Duration("claim-ttl"),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Log.WithField("signal", sig).Info("scheduler: received shutdown signal, finishing current tick")
		cancel()
	}()

	sched.Run(runCtx)
	return nil
}
