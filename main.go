package main

import (
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/cmd"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "orchestrator",
		Usage: "Crash-safe, multi-instance job orchestrator",
		Commands: []*cli.Command{
			cmd.SchedulerCommand,
			cmd.DispatcherCommand,
			cmd.AgentExecutorCommand,
			cmd.MigrateCommand,
			cmd.HealthCheckCommand,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		// log fatal so we exit with the proper exit code, this is important for containerized deployment health checks
		logging.Log.WithError(err).Fatal("runtime error")
	}
}
