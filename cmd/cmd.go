package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/krau/konaclassify/config"
	"github.com/krau/konaclassify/hub"
	"github.com/krau/konaclassify/pipeline"
	"github.com/krau/konaclassify/service"
)

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "konaclassify",
		Short:         "Image classification with cached ONNX pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: config.C().SlogLevel(),
			})))
		},
	}

	rootCmd.AddCommand(newServeCmd(), newClassifyCmd(), newDevicesCmd())
	return rootCmd
}

func newCache(cfg config.Config) *pipeline.Cache {
	return pipeline.NewCache(service.NewConstructor(service.Options{
		Hub:         hub.New(cfg.HubURL, cfg.Revision, cfg.CacheDir),
		Loader:      service.NewLoader(cfg.SamplesDir, cfg.MaxImageMB<<20),
		TopK:        cfg.TopK,
		GPUProvider: cfg.GPUProvider,
	}))
}
