package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// Migrator управляет схемой БД.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
}

// NewMigrateCmd создаёт группу команд migrate.
func NewMigrateCmd(migratorFn func() Migrator, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := migratorFn().Up(); err != nil {
					return err
				}
				outputFn().Success("Migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down [STEPS]",
			Short: "Roll back migrations (default: 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("invalid steps %q, expected positive integer", args[0])
					}
					steps = n
				}
				if err := migratorFn().Down(steps); err != nil {
					return err
				}
				outputFn().Success(fmt.Sprintf("Rolled back %d migration(s)", steps))
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				version, dirty, err := migratorFn().Version()
				if err != nil {
					return err
				}
				return outputFn().Print(
					[]string{"VERSION", "DIRTY"},
					[][]string{{strconv.FormatUint(uint64(version), 10), strconv.FormatBool(dirty)}},
					map[string]any{"version": version, "dirty": dirty},
				)
			},
		},
	)

	return cmd
}
