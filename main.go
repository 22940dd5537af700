package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/krau/konaclassify/cmd"
)

func main() {
	if err := cmd.NewCLI().ExecuteContext(context.Background()); err != nil {
		slog.Error("konaclassify failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
