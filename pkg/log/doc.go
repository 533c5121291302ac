/*
Package log provides structured logging for Stampede using zerolog.

The package holds a single global logger configured once at startup via
Init, plus helpers that derive child loggers carrying common fields:

	logger := log.WithComponent("manager")
	logger.Info().Str("run_id", runID).Msg("provisioning workers")

Console output (human-readable, colored) is the default; JSON output is
available for machine consumption via Config.JSONOutput.
*/
package log
