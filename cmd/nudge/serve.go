package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lbartoszcze/autolife/internal/api"
)

var (
	serveHTTPAddr string
	serveGRPCAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve decisions over HTTP and gRPC",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (default: config)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc", "", "gRPC listen address (default: config, \"off\" disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	httpAddr, grpcAddr := cfg.HTTPAddr, cfg.GRPCAddr
	if serveHTTPAddr != "" {
		httpAddr = serveHTTPAddr
	}
	if serveGRPCAddr != "" {
		grpcAddr = serveGRPCAddr
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lis net.Listener
	if grpcAddr != "off" {
		if lis, err = net.Listen("tcp", grpcAddr); err != nil {
			return fmt.Errorf("listen %s: %w", grpcAddr, err)
		}
	}

	limits := cfg.Limits()
	g, ctx := errgroup.WithContext(ctx)

	httpSrv := api.NewServer(a.orch, a.traces(), limits, logger)
	g.Go(func() error {
		return httpSrv.ListenAndServe(ctx, httpAddr)
	})

	if lis != nil {
		grpcSrv := api.NewGRPCServer(a.orch, limits, logger)
		g.Go(func() error {
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcSrv.Stop()
			return nil
		})
	}

	logger.Info("serving",
		zap.String("http", httpAddr),
		zap.String("grpc", grpcAddr),
		zap.String("state_root", cfg.StateRoot),
		zap.String("store", cfg.Store),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
