package cmd

import (
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/krau/konaclassify/config"
	"github.com/krau/konaclassify/onnx"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the devices and dtypes this machine can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := onnx.Init(); err != nil {
				return err
			}
			defer onnx.Destroy()
			printCapabilities(os.Stdout, onnx.NewDetector(config.C().GPUProvider).Capabilities())
			return nil
		},
	}
}

func printCapabilities(w io.Writer, caps onnx.Capabilities) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"DEVICE", "AVAILABLE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, name := range append([]string{"auto"}, onnx.CheckedDevices...) {
		table.Append([]string{name, strconv.FormatBool(caps.Devices[name])})
	}
	table.Append([]string{"fp16", strconv.FormatBool(caps.FP16)})
	table.Render()
}
