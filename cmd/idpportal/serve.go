package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opentalon/idpportal/internal/api"
	"github.com/opentalon/idpportal/internal/scheduler"
	"github.com/opentalon/idpportal/internal/version"
)

var (
	serveAddr     string
	serveGRPCAddr string
	serveDevMode  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health service and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if cmd.Flags().Changed("grpc-addr") {
			cfg.Server.GRPCAddr = serveGRPCAddr
		}
		if cmd.Flags().Changed("dev") {
			cfg.Server.DevMode = serveDevMode
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting idpportal", zap.Stringer("version", version.Get()))
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("closing resources", zap.Error(err))
			}
		}()

		if err := a.sched.Start(a.supervisor, scheduler.JobsFromConfig(cfg.Schedules)); err != nil {
			return err
		}
		defer a.sched.Stop()

		srv := api.New(api.Options{
			Runner:   a.supervisor,
			Registry: a.registry,
			Store:    a.store,
			Checks:   a.checks,
			Gatherer: a.promReg,
			Logger:   logger.Named("api"),
			DevMode:  cfg.Server.DevMode,
		})
		health := api.NewHealthServer(a.checks, logger.Named("grpc"))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Serve(gctx, cfg.Server.Addr) })
		g.Go(func() error { return health.Serve(gctx, cfg.Server.GRPCAddr) })
		g.Go(func() error { return a.prune(gctx) })
		err = g.Wait()
		logger.Info("idpportal stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC health listen address (overrides server.grpc_addr)")
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "trust the X-User header (overrides server.dev_mode)")
}
