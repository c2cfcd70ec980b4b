package cli

import (
	"github.com/navshield/sentineltrace/internal/app"
	"github.com/navshield/sentineltrace/internal/config"
	"github.com/navshield/sentineltrace/pkg/source"
)

// buildApp wires an app.App for the given root options, using a FileSensor
// over the configured sensor record path as the concrete Sensor
// implementation. httpAddr is empty for one-shot subcommands that only
// need the service façade, and non-empty for serve.
func buildApp(opts *RootOptions, httpAddr string) (*app.App, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	sensorFactory := func() (source.Sensor, error) {
		return source.NewFileSensor(cfg.SensorRecordPath, true, opts.Logger), nil
	}

	a, err := app.New(opts.ConfigFile, httpAddr, sensorFactory, opts.Logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize application", err)
	}
	return a, nil
}
