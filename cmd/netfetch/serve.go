package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"netfetch/handler"
	"netfetch/handler/platforms"
)

const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fetch requests over HTTP, or as a Lambda function",
	Long: `Serve fetch requests.

Inside the Lambda runtime (AWS_LAMBDA_FUNCTION_NAME or AWS_LAMBDA_RUNTIME_API
set) requests arrive as SQS batches or direct invocations. Otherwise an HTTP
server listens on HTTP_ADDR and Prometheus metrics on METRICS_ADDR.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := buildApplication(ctx, cfg, os.Stdout)
		if err != nil {
			return err
		}
		return app.Serve(ctx)
	},
}

// Serve runs the platform the handler factory selects until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	h := a.newFactory().Create()

	if h.Config().Platform == handler.PlatformLambda {
		a.logger.Info(ctx, "Starting Lambda adapter", nil)
		platforms.NewLambdaAdapter(h, &a.cfg.Lambda, a.obs.Logger("platform.lambda")).Start()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	api := platforms.NewServer(a.cfg.HTTP.Addr,
		platforms.NewHTTPAdapter(h, a.obs.Logger("platform.http")),
		a.cfg.Handler.Timeout,
		a.obs.Logger("server.api"),
	)
	g.Go(func() error { return api.Run(gctx) })

	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		metricsServer := platforms.NewServer(a.cfg.Metrics.Addr, mux, 0, a.obs.Logger("server.metrics"))
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := a.Shutdown(drainCtx); err == nil {
		err = derr
	}
	return err
}
