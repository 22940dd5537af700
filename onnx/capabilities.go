package onnx

import (
	"log/slog"
	"sync"

	"github.com/krau/konaclassify/pipeline"
)

// CheckedDevices are the device strings checked by a Detector.
var CheckedDevices = []string{"wasm", "webgpu", "webnn", "webnn-cpu", "webnn-gpu", "webnn-npu"}

// Capabilities reports which devices and dtypes can be requested.
type Capabilities struct {
	Devices map[string]bool  `json:"devices"`
	WebGPU  bool             `json:"webgpu"`
	WebNN   bool             `json:"webnn"`
	NPU     bool             `json:"npu"`
	FP16    bool             `json:"fp16"`
	Dtypes  []pipeline.Dtype `json:"dtypes"`
}

// Checker returns nil when the plan's execution provider can be registered.
type Checker func(Plan) error

// Detector checks the runtime once and remembers the answer.
type Detector struct {
	gpuProvider string
	check       Checker

	once sync.Once
	caps Capabilities
}

func NewDetector(gpuProvider string) *Detector {
	return &Detector{gpuProvider: gpuProvider, check: checkSession}
}

func (d *Detector) Capabilities() Capabilities {
	d.once.Do(func() {
		d.caps = detect(d.check, d.gpuProvider)
		slog.Info("Detected devices", slog.Any("devices", d.caps.Devices), slog.Bool("fp16", d.caps.FP16))
	})
	return d.caps
}

func detect(check Checker, gpuProvider string) Capabilities {
	caps := Capabilities{Devices: make(map[string]bool, len(CheckedDevices)+1)}
	for _, name := range CheckedDevices {
		device, err := pipeline.ParseDevice(name)
		if err != nil {
			continue
		}
		plan, err := NewPlan(device, nil, gpuProvider)
		if err != nil {
			continue
		}
		if err := check(plan); err != nil {
			slog.Debug("Device unavailable", slog.String("device", name), slog.String("error", err.Error()))
			continue
		}
		caps.Devices[name] = true
	}
	caps.Devices["auto"] = caps.Devices["wasm"]

	caps.WebGPU = caps.Devices["webgpu"]
	caps.WebNN = caps.Devices["webnn"]
	caps.NPU = caps.Devices["webnn-npu"]
	// fp16 exports are offered only with a GPU provider
	caps.FP16 = caps.WebGPU
	for _, dt := range pipeline.Dtypes {
		if dt.Half() && !caps.FP16 {
			continue
		}
		caps.Dtypes = append(caps.Dtypes, dt)
	}
	return caps
}

func checkSession(p Plan) error {
	if err := Init(); err != nil {
		return err
	}
	opts, err := NewSessionOptions(p)
	if err != nil {
		return err
	}
	return opts.Destroy()
}
