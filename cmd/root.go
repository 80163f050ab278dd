package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartfront/checkout-go/libs/clients"
	appctx "github.com/cartfront/checkout-go/libs/context"
	errorutils "github.com/cartfront/checkout-go/libs/errors"
	"github.com/cartfront/checkout-go/libs/logging"
)

var (
	// RootCmd is the base command (what the binary is called)
	RootCmd = &cobra.Command{
		Use:   "checkout-go",
		Short: "checkout-go provides the cartfront checkout and reconciliation service",
	}
	ctx = context.Background()
)

// Execute - the main entrypoint for all subcommands in checkout-go
func Execute(version, commit, buildTime string) {
	// setup context with logging, but first we need to setup the environment
	var logger *zerolog.Logger
	ctx = context.WithValue(ctx, appctx.EnvironmentCTXKey, viper.Get("environment"))
	ctx = context.WithValue(ctx, appctx.DebugLoggingCTXKey, viper.GetBool("debug"))
	ctx, logger = logging.SetupLogger(ctx)

	ctx = context.WithValue(ctx, appctx.VersionCTXKey, version)
	ctx = context.WithValue(ctx, appctx.CommitCTXKey, commit)
	ctx = context.WithValue(ctx, appctx.BuildTimeCTXKey, buildTime)

	// execute the root cmd
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("./checkout-go command encountered an error")
		os.Exit(1)
	}
}

// Must helper to make sure there is no errors
func Must(err error) {
	if err != nil {
		fmt.Printf("failed to initialize: %s\n", err.Error())
		// exit with failure
		os.Exit(1)
	}
}

func init() {
	// env - defaults to local
	RootCmd.PersistentFlags().String("environment", "local",
		"the default environment")
	Must(viper.BindPFlag("environment", RootCmd.PersistentFlags().Lookup("environment")))
	Must(viper.BindEnv("environment", "ENV"))

	// debug logging - defaults to off
	RootCmd.PersistentFlags().Bool("debug", false, "turn on debug logging")
	Must(viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug")))
	Must(viper.BindEnv("debug", "DEBUG"))

	// providerService (required by serve)
	RootCmd.PersistentFlags().String("provider-service", "",
		"the payment provider service address")
	Must(viper.BindPFlag("provider-service", RootCmd.PersistentFlags().Lookup("provider-service")))
	Must(viper.BindEnv("provider-service", "PROVIDER_SERVER"))

	// providerToken
	RootCmd.PersistentFlags().String("provider-token", "",
		"the payment provider access token for this service")
	Must(viper.BindPFlag("provider-token", RootCmd.PersistentFlags().Lookup("provider-token")))
	Must(viper.BindEnv("provider-token", "PROVIDER_TOKEN"))

	// providerTimeout - the strict wait on a provider charge
	RootCmd.PersistentFlags().Duration("provider-timeout", 350*time.Millisecond,
		"the bounded wait on a provider charge call")
	Must(viper.BindPFlag("provider-timeout", RootCmd.PersistentFlags().Lookup("provider-timeout")))
	Must(viper.BindEnv("provider-timeout", "PROVIDER_TIMEOUT"))

	// outagePendingCapCents - largest amount admitted pending during an outage
	RootCmd.PersistentFlags().Int64("outage-pending-cap-cents", 20000,
		"the largest amount in cents admitted as pending while the provider is unreachable")
	Must(viper.BindPFlag("outage-pending-cap-cents", RootCmd.PersistentFlags().Lookup("outage-pending-cap-cents")))
	Must(viper.BindEnv("outage-pending-cap-cents", "OUTAGE_PENDING_CAP_CENTS"))

	RootCmd.AddCommand(VersionCmd)
}

// VersionCmd is the command to get the code's version information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "get the version of this binary",
	Run:   versionRun,
}

func versionRun(command *cobra.Command, args []string) {
	version := command.Context().Value(appctx.VersionCTXKey).(string)
	commit := command.Context().Value(appctx.CommitCTXKey).(string)
	buildTime := command.Context().Value(appctx.BuildTimeCTXKey).(string)
	fmt.Printf("version: %s\ncommit: %s\nbuild time: %s\n",
		version, commit, buildTime,
	)
}

// Perform performs a run
func Perform(action string, fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		err := fn(cmd, args)
		if err != nil {
			logger, lerr := appctx.GetLogger(cmd.Context())
			if lerr != nil {
				_, logger = logging.SetupLogger(cmd.Context())
			}

			log := logger.Err(err).Str("action", action)
			httpError, ok := err.(*errorutils.ErrorBundle)
			if ok {
				state, ok := httpError.Data().(clients.HTTPState)
				if ok {
					log = log.Int("status", state.Status).
						Str("path", state.Path).
						Interface("data", state.Body)
				}
			}
			log.Msg("failed")
		}
		<-time.After(10 * time.Millisecond)
		if err != nil {
			os.Exit(1)
		}
	}
}
