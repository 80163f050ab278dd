package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	// pprof imports
	_ "net/http/pprof"

	sentry "github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	chiware "github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartfront/checkout-go/libs/clients/provider"
	appctx "github.com/cartfront/checkout-go/libs/context"
	"github.com/cartfront/checkout-go/libs/handlers"
	"github.com/cartfront/checkout-go/libs/logging"
	"github.com/cartfront/checkout-go/libs/middleware"
	"github.com/cartfront/checkout-go/libs/requestutils"
	"github.com/cartfront/checkout-go/services/checkout"
)

const (
	routerTimeout = 10 * time.Second
)

func init() {
	RootCmd.AddCommand(ServeCmd)

	// address - sets the address of the server to be started
	ServeCmd.PersistentFlags().String("address", ":8080",
		"the default address to bind to")
	Must(viper.BindPFlag("address", ServeCmd.PersistentFlags().Lookup("address")))
	Must(viper.BindEnv("address", "ADDR"))

	// database-url - the postgres connection string
	ServeCmd.PersistentFlags().String("database-url", "",
		"the database url for the checkout datastore")
	Must(viper.BindPFlag("database-url", ServeCmd.PersistentFlags().Lookup("database-url")))
	Must(viper.BindEnv("database-url", "DATABASE_URL"))
}

// ServeCmd the serve command
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "entrypoint to serve the checkout service",
	Run:   Perform("serve", RunServer),
}

// setupRouter sets up the router with the shared middleware stack
func setupRouter(ctx context.Context) *chi.Mux {
	logger, err := appctx.GetLogger(ctx)
	Must(err)

	r := chi.NewRouter()
	r.Use(
		chiware.RequestID,
		chiware.RealIP,
		chiware.Heartbeat("/"),
		chiware.Timeout(routerTimeout),
		middleware.RequestIDTransfer)

	if os.Getenv("ENV") == "production" {
		rl, ok := ctx.Value(appctx.RateLimitPerMinuteCTXKey).(int)
		if !ok {
			r.Use(middleware.RateLimiter(ctx, 180))
		} else {
			r.Use(middleware.RateLimiter(ctx, rl))
		}
	}
	if logger != nil {
		// Also handles panic recovery
		r.Use(
			hlog.NewHandler(*logger),
			hlog.UserAgentHandler("user_agent"),
			hlog.RequestIDHandler("req_id", "Request-Id"),
			middleware.RequestLogger(logger))

		logger.Info().
			Str("version", ctx.Value(appctx.VersionCTXKey).(string)).
			Str("commit", ctx.Value(appctx.CommitCTXKey).(string)).
			Str("build_time", ctx.Value(appctx.BuildTimeCTXKey).(string)).
			Str("provider_service", viper.GetString("provider-service")).
			Str("address", viper.GetString("address")).
			Str("environment", viper.GetString("environment")).
			Msg("server starting")
	}
	r.Get("/health-check", handlers.HealthCheckHandler(
		ctx.Value(appctx.VersionCTXKey).(string),
		ctx.Value(appctx.BuildTimeCTXKey).(string),
		ctx.Value(appctx.CommitCTXKey).(string), nil))
	return r
}

// RunServer - the main entrypoint of the serve subcommand, starts the
// checkout rest service
func RunServer(command *cobra.Command, args []string) error {
	ctx := command.Context()
	logger, err := appctx.GetLogger(ctx)
	if err != nil {
		ctx, logger = logging.SetupLogger(ctx)
	}

	sentryDsn := os.Getenv("SENTRY_DSN")
	if sentryDsn != "" {
		buildTime := ctx.Value(appctx.BuildTimeCTXKey).(string)
		commit := ctx.Value(appctx.CommitCTXKey).(string)
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     sentryDsn,
			Release: fmt.Sprintf("checkout-go@%s-%s", commit, buildTime),
		})
		defer sentry.Flush(2 * time.Second)
		if err != nil {
			logger.Panic().Err(err).Msg("unable to setup reporting!")
		}
	}

	// add our command line params to context
	ctx = context.WithValue(ctx, appctx.DatabaseURLCTXKey, viper.GetString("database-url"))
	ctx = context.WithValue(ctx, appctx.ProviderServerCTXKey, viper.GetString("provider-service"))
	ctx = context.WithValue(ctx, appctx.ProviderTokenCTXKey, viper.GetString("provider-token"))
	ctx = context.WithValue(ctx, appctx.ProviderTimeoutCTXKey, viper.GetDuration("provider-timeout"))
	ctx = context.WithValue(ctx, appctx.OutagePendingCapCTXKey, viper.GetInt64("outage-pending-cap-cents"))

	db, err := checkout.NewPostgres(viper.GetString("database-url"), true)
	if err != nil {
		logger.Panic().Err(err).Msg("unable to connect to the checkout datastore")
	}
	ctx = context.WithValue(ctx, appctx.DatastoreCTXKey, db)

	environment := viper.GetString("environment")

	// outside local the provider must be a real reachable service, locally
	// a seeded simulator stands in when no address is configured
	var providerClient provider.Client
	if environment == "local" && viper.GetString("provider-service") == "" {
		providerClient = provider.NewRandomSimulator(
			time.Now().UnixNano(), 0.1, 0.2, 2*routerTimeout)
	}

	service, err := checkout.InitService(ctx, db, providerClient)
	if err != nil {
		logger.Panic().Err(err).Msg("failed to initialize checkout service")
	}

	r := setupRouter(ctx)
	r.Mount("/v1", checkout.Router(service))

	if environment == "local" {
		r.Mount("/v1/_provider", simulatorRouter())
	}

	go func() {
		err := http.ListenAndServe(":9090", middleware.Metrics())
		if err != nil {
			sentry.CaptureException(err)
			logger.Panic().Err(err).Msg("metrics HTTP server start failed!")
		}
	}()

	srv := http.Server{
		Addr:         viper.GetString("address"),
		Handler:      chi.ServerBaseContext(ctx, r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	if err = srv.ListenAndServe(); err != nil {
		sentry.CaptureException(err)
		logger.Fatal().Err(err).Msg("HTTP server start failed!")
	}

	return nil
}

// simulatorRouter stands in for the provider during local development,
// answering charges from a randomized simulator
func simulatorRouter() chi.Router {
	sim := provider.NewRandomSimulator(
		time.Now().UnixNano(), 0.1, 0.2, 2*routerTimeout)

	r := chi.NewRouter()
	r.Method("POST", "/charge", middleware.InstrumentHandler("SimulateCharge",
		handlers.AppHandler(func(w http.ResponseWriter, req *http.Request) *handlers.AppError {
			ctx := req.Context()

			var chargeReq provider.ChargeRequest
			if err := requestutils.ReadJSON(ctx, req.Body, &chargeReq); err != nil {
				return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
			}

			resp, err := sim.Charge(ctx, &chargeReq)
			if err != nil {
				return handlers.WrapError(err, "simulated provider stall", http.StatusGatewayTimeout)
			}

			return handlers.RenderContent(ctx, resp, w, http.StatusOK)
		})))
	return r
}
