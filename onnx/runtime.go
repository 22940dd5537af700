package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/konaclassify/config"
)

var pathOnce sync.Once
var libPath string

func LibPath() string {
	pathOnce.Do(func() {
		libPath = loadLibPath()
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

func loadLibPath() string {
	if config.C().Libonnx != "" {
		return config.C().Libonnx
	}
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	return defaultLibPath(runtime.GOOS)
}

func defaultLibPath(goos string) string {
	switch goos {
	case "linux":
		return "/usr/lib/libonnxruntime.so"
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return ""
	}
}

// Init loads the shared library and starts the ONNX Runtime environment.
// Calling it again after a successful start is a no-op.
func Init() error {
	if ort.IsInitialized() {
		return nil
	}
	path := LibPath()
	if path == "" {
		return fmt.Errorf("no ONNX Runtime library for %s", runtime.GOOS)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("ONNX Runtime library not found: %w", err)
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	if err := ort.DisableTelemetry(); err != nil {
		slog.Warn("Failed to disable ONNX Runtime telemetry", slog.String("error", err.Error()))
	}
	return nil
}

func Destroy() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
