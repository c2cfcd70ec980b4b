package cli

import (
	"github.com/spf13/cobra"
)

// SessionsOptions holds flags shared by the sessions subcommands.
type SessionsOptions struct {
	*RootOptions
}

// NewSessionsCommand groups session lifecycle operations.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and control monitoring/cataloging sessions",
	}

	cmd.AddCommand(newSessionsListCommand(opts))
	cmd.AddCommand(newSessionsStartMonitorCommand(opts))
	cmd.AddCommand(newSessionsStopActiveCommand(opts))
	return cmd
}

func newSessionsListCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List sessions (excluding the test-harness executable)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer a.Stop()

			sessions, err := a.Service().ListSessions()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list sessions", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(sessions)
		},
	}
}

func newSessionsStartMonitorCommand(opts *SessionsOptions) *cobra.Command {
	var target, host, user, osVersion string
	var preferredPID int64

	cmd := &cobra.Command{
		Use:           "start-monitor",
		Short:         "Begin monitoring a target executable's process tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer a.Stop()

			sessionID, err := a.Service().StartMonitor(target, preferredPID, host, user, osVersion)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to start monitor session", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]int64{"session_id": sessionID})
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "target executable name")
	cmd.Flags().Int64Var(&preferredPID, "pid", 0, "preferred process id, 0 to resolve by executable name")
	cmd.Flags().StringVar(&host, "host", "", "host identifier recorded with the session")
	cmd.Flags().StringVar(&user, "user", "", "user identifier recorded with the session")
	cmd.Flags().StringVar(&osVersion, "os-version", "", "operating system version recorded with the session")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newSessionsStopActiveCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stop-active",
		Short:         "Stop the currently active session, if any",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer a.Stop()

			result, err := a.Service().StopActive()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to stop active session", err)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(result)
		},
	}
}
