package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/krau/konaclassify/config"
	"github.com/krau/konaclassify/onnx"
	"github.com/krau/konaclassify/pipeline"
	"github.com/krau/konaclassify/worker"
)

func newClassifyCmd() *cobra.Command {
	cfg := config.C()
	cmd := &cobra.Command{
		Use:   "classify IMAGE",
		Short: "Classify an image (path, URL or data URI) in-process",
		Args:  cobra.ExactArgs(1),
		RunE:  runClassify,
	}
	cmd.Flags().String("task", cfg.Task, "Pipeline task")
	cmd.Flags().String("model", cfg.Model, "Model repository or local directory")
	cmd.Flags().String("device", cfg.Device, "auto, wasm, webgpu, webnn or webnn-{cpu,gpu,npu}")
	cmd.Flags().String("dtype", cfg.Dtype, "fp32, fp16, q8, int8, uint8, q4, q4f16 or bnb4")
	cmd.Flags().Int("top-k", cfg.TopK, "Number of labels to print")
	cmd.Flags().StringToString("session-option", nil, "Execution provider option, repeatable (key=value)")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg := config.C()
	flags := cmd.Flags()
	req := worker.Request{Input: args[0]}
	req.Task, _ = flags.GetString("task")
	req.Model, _ = flags.GetString("model")
	req.Device, _ = flags.GetString("device")
	req.Dtype, _ = flags.GetString("dtype")
	req.SessionOptions, _ = flags.GetStringToString("session-option")
	cfg.TopK, _ = flags.GetInt("top-k")

	if err := req.Config().Validate(); err != nil {
		return err
	}
	if err := onnx.Init(); err != nil {
		return err
	}
	defer onnx.Destroy()

	cache := newCache(cfg)
	defer cache.Close()
	w := worker.New(cache, 1)
	go w.Run(cmd.Context())
	defer w.Close()

	ch, err := w.Submit(cmd.Context(), req)
	if err != nil {
		return err
	}
	for m := range ch {
		switch m.Status {
		case worker.StatusError:
			return fmt.Errorf("classification failed: %s", m.Error)
		case worker.StatusComplete:
			printPredictions(os.Stdout, m.Output)
		default:
			printProgress(cmd.ErrOrStderr(), m)
		}
	}
	return nil
}

func printProgress(w io.Writer, m worker.Message) {
	switch m.Status {
	case pipeline.StatusProgress:
		if m.Progress == nil {
			fmt.Fprintf(w, "%s %s %d bytes\n", m.Status, m.File, m.Loaded)
			return
		}
		fmt.Fprintf(w, "%s %s %.0f%%\n", m.Status, m.File, *m.Progress)
	case pipeline.StatusReady:
		fmt.Fprintf(w, "%s %s\n", m.Status, m.Name)
	default:
		fmt.Fprintf(w, "%s %s\n", m.Status, m.File)
	}
}

func printPredictions(w io.Writer, preds []pipeline.Prediction) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"LABEL", "SCORE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, p := range preds {
		table.Append([]string{p.Label, strconv.FormatFloat(float64(p.Score), 'f', 2, 32)})
	}
	table.Render()
}
