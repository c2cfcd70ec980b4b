package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// ExportOptions holds flags shared by the export subcommands.
type ExportOptions struct {
	*RootOptions
	Dir string
}

// NewExportCommand groups JSON export operations over sessions and
// cataloged tests.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session or atomic test to a JSON file",
	}
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", ".", "directory the export file is written to")

	cmd.AddCommand(newExportSessionCommand(opts))
	cmd.AddCommand(newExportTestCommand(opts))
	return cmd
}

func newExportSessionCommand(opts *ExportOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "session <session-id>",
		Short:         "Export a session and its events as JSON",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "session id must be an integer", err)
			}

			a, err := buildApp(opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer a.Stop()

			path, err := a.Service().ExportSession(sessionID, opts.Dir)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to export session", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]string{"path": path})
		},
	}
}

func newExportTestCommand(opts *ExportOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "test <test-id>",
		Short:         "Export a cataloged atomic test's signature and events as JSON",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "test id must be an integer", err)
			}

			a, err := buildApp(opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer a.Stop()

			path, err := a.Service().ExportTest(testID, opts.Dir)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to export test", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]string{"path": path})
		},
	}
}
