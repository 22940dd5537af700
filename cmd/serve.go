package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/krau/konaclassify/config"
	"github.com/krau/konaclassify/onnx"
	"github.com/krau/konaclassify/pipeline"
	"github.com/krau/konaclassify/server"
	"github.com/krau/konaclassify/worker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the classification server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Bool("preload", false, "Build the default pipeline before accepting requests")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	slog.Info("Starting KonaClassify")

	cfg := config.C()
	if err := onnx.Init(); err != nil {
		return err
	}
	defer onnx.Destroy()

	cache := newCache(cfg)
	defer cache.Close()

	if preload, _ := cmd.Flags().GetBool("preload"); preload {
		def := pipeline.Config{Task: cfg.Task, Model: cfg.Model, Device: cfg.Device, Dtype: pipeline.Dtype(cfg.Dtype)}
		logProgress := func(p pipeline.Progress) {
			slog.Debug("Preload", slog.String("status", p.Status), slog.String("file", p.File), slog.Int64("loaded", p.Loaded), slog.Int64("total", p.Total))
		}
		if _, err := cache.Get(ctx, def, logProgress); err != nil {
			return err
		}
	}

	w := worker.New(cache, cfg.QueueSize)
	go w.Run(ctx)
	defer w.Close()

	gin.SetMode(gin.ReleaseMode)
	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(w, cache, onnx.NewDetector(cfg.GPUProvider), cfg).Routes(),
	}

	slog.Info("Listening on", slog.String("address", addr))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
