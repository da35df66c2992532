package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/psds-microservice/voice-supervisor/internal/database"
	"github.com/spf13/cobra"
)

// oneShot is a maintenance task runnable as "voice-supervisor command <name>".
type oneShot struct {
	desc string
	run  func(cmd *cobra.Command, args []string) error
}

var oneShots = map[string]oneShot{
	"migrate": {
		desc: "apply pending session history migrations",
		run:  func(cmd *cobra.Command, _ []string) error { return runMigrateUp(cmd, nil) },
	},
	"migrate-down": {
		desc: "roll back the last history migration",
		run: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadDBConfig()
			if err != nil {
				return err
			}
			return database.MigrateDown(cfg.DatabaseURL(), 1)
		},
	},
	"migrate-create": {
		desc: "create an empty up/down migration pair: migrate-create <name>",
		run:  createMigration,
	},
}

var commandCmd = &cobra.Command{
	Use:   "command [name]",
	Short: "Run a one-time maintenance task; without a name lists them",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		printOneShots(cmd)
		return nil
	}
	task, ok := oneShots[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (available: %s)", args[0], strings.Join(oneShotNames(), ", "))
	}
	return task.run(cmd, args[1:])
}

func createMigration(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	} else {
		fmt.Fprint(cmd.OutOrStdout(), "Enter migration name: ")
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		name = line
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("migration name required")
	}
	return database.CreateMigration(name)
}

func printOneShots(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "available commands:")
	for _, name := range oneShotNames() {
		fmt.Fprintf(out, "  %-15s %s\n", name, oneShots[name].desc)
	}
}

func oneShotNames() []string {
	names := make([]string, 0, len(oneShots))
	for name := range oneShots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
