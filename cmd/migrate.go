package cmd

import (
	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/urfave/cli/v2"
)

var MigrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Connects to the state store and brings its schema up to date",
	Flags: dbFlags,
	Action: func(ctx *cli.Context) error {
		return RunMigrations()
	},
}

// RunMigrations opens the state store, which runs gorm.AutoMigrate against
// every model's table over the live connection, then closes it. There is no
// separate migration-runner CLI: the schema is simple enough that
// AutoMigrate run ad hoc at Initialize() (see postgres_store.Initialize)
// suffices, the same way the store is opened and migrated in one step by
// every other command here.
func RunMigrations() error {
	_, cleanup, err := initStore()
	if err != nil {
		return err
	}
	defer cleanup()
	logging.Log.Info("migrate: schema is up to date")
	return nil
}
