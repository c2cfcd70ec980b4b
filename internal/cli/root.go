// Package cli implements the sentineltrace operator CLI: a daemon
// subcommand plus one-shot commands over the session service façade,
// grounded on the roach88 brutalist CLI's RootOptions/OutputFormatter
// pattern (text/json dual output, ExitError exit codes).
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	ConfigFile string
	Format     string // "text" | "json"
	Logger     *logrus.Logger
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the root cobra command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Logger: logrus.StandardLogger()}

	cmd := &cobra.Command{
		Use:   "sentineltrace",
		Short: "Host telemetry session engine",
		Long:  "sentineltrace tracks a target process tree, normalizes captured events into a signature catalog, and monitors active sessions for similarity against that catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewTestsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
