package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/viant/memlease"
)

var (
	runConfig string
	runAddr   string
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().StringVarP(&runConfig, "config", "c", "", "Config URL (local path, mem://, s3:// ...)")
	cmd.Flags().StringVar(&runAddr, "addr", "", "Admin listen address, overrides admin.addr")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the allocator",
		Long: `The run command starts the allocator request loop, registers the configured
workers and serves the admin API until interrupted.

Example:
  memleased run --config memlease.yaml
  memleased run --config memlease.yaml --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func loadConfig(ctx context.Context) (*memlease.Config, error) {
	if runConfig == "" {
		return memlease.DefaultConfig(), nil
	}
	return memlease.LoadConfig(ctx, runConfig)
}

func runServer(ctx context.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if runAddr != "" {
		config.Admin.Addr = runAddr
	}
	logger := config.Log.NewLogger(os.Stderr)
	options := []memlease.Option{memlease.WithConfig(config), memlease.WithLogger(logger)}
	if config.Tracing.Enabled {
		options = append(options, memlease.WithTracing(memlease.Name, memlease.Version, config.Tracing.OutputFile))
	}
	gin.SetMode(gin.ReleaseMode)
	srv, err := memlease.New(options...)
	if err != nil {
		return err
	}
	rt := srv.Runtime()
	if err = rt.Start(ctx); err != nil {
		return err
	}
	serveErr := rt.Serve(ctx)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return errors.Join(serveErr, rt.Shutdown(context.WithoutCancel(ctx)))
}
