package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// TestsOptions holds flags shared by the tests subcommands.
type TestsOptions struct {
	*RootOptions
}

// NewTestsCommand groups catalog (atomic test) operations.
func NewTestsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List and inspect cataloged atomic tests",
	}

	cmd.AddCommand(newTestsListCommand(opts))
	cmd.AddCommand(newTestsGetCommand(opts))
	return cmd
}

func newTestsListCommand(opts *TestsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every cataloged atomic test",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer a.Stop()

			tests, err := a.Service().ListCatalogedTests()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list cataloged tests", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(tests)
		},
	}
}

func newTestsGetCommand(opts *TestsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <test-id>",
		Short:         "Show one cataloged atomic test by id",
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

			test, err := a.Service().GetTestSummary(testID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load atomic test", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(test)
		},
	}
}
