package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	verboseFlag bool
	traceFlag   bool
	quietFlag   bool

	rootCommand = &cobra.Command{
		Use:          "playout",
		Short:        "Jitter-buffered playout of timestamped PCM audio",
		SilenceUsage: true,
	}
)

func initLogging() {
	switch {
	case verboseFlag:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case traceFlag:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case quietFlag:
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func main() {
	log.Logger = log.Output(
		zerolog.ConsoleWriter{
			Out: os.Stderr, TimeFormat: "15:04:05.000"})
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	cobra.OnInitialize(initLogging)

	rootCommand.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
	rootCommand.PersistentFlags().BoolVarP(&traceFlag, "trace", "", false, "trace output")
	rootCommand.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "no logging output")

	rootCommand.AddCommand(newServeCommand(), newSimulateCommand())

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
