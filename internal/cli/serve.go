package cli

import (
	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	HTTPAddr string
}

// NewServeCommand builds the daemon entrypoint: opens the store, wires the
// session service and file sensor, and serves the HTTP façade until a
// shutdown signal arrives.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the session engine and HTTP API until signaled to stop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", ":8090", "address the HTTP façade listens on")
	return cmd
}

func runServe(opts *ServeOptions) error {
	a, err := buildApp(opts.RootOptions, opts.HTTPAddr)
	if err != nil {
		return err
	}
	if err := a.Run(); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	return nil
}
