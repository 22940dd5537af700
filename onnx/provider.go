package onnx

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/konaclassify/pipeline"
)

type Provider string

const (
	ProviderCPU      Provider = "cpu"
	ProviderCUDA     Provider = "cuda"
	ProviderDirectML Provider = "directml"
	ProviderOpenVINO Provider = "openvino"
)

// Session option keys consumed by the session itself rather than the
// execution provider.
const (
	OptIntraOpThreads = "intra_op_num_threads"
	OptInterOpThreads = "inter_op_num_threads"
	OptDeviceID       = "device_id"
)

// Plan is how a device request maps onto ONNX Runtime.
type Plan struct {
	Provider        Provider
	ProviderOptions map[string]string
	IntraOpThreads  int
	InterOpThreads  int
}

// NewPlan maps a device onto an execution provider:
//
//	auto, wasm, *-cpu (except webnn) -> CPU
//	webgpu                           -> CUDA, or DirectML when gpuProvider is "directml"
//	webnn[-cpu|-gpu|-npu]            -> OpenVINO with device_type CPU/GPU/NPU (AUTO without a sub device)
//
// sessionOptions are passed to the provider, minus the thread counts.
func NewPlan(device pipeline.Device, sessionOptions map[string]string, gpuProvider string) (Plan, error) {
	p := Plan{ProviderOptions: map[string]string{}}
	for k, v := range sessionOptions {
		var err error
		switch k {
		case OptIntraOpThreads:
			p.IntraOpThreads, err = strconv.Atoi(v)
		case OptInterOpThreads:
			p.InterOpThreads, err = strconv.Atoi(v)
		default:
			p.ProviderOptions[k] = v
		}
		if err != nil {
			return Plan{}, fmt.Errorf("invalid session option %s=%q: %w", k, v, err)
		}
	}

	switch device.Backend {
	case pipeline.BackendAuto, pipeline.BackendWasm:
		p.Provider = ProviderCPU
	case pipeline.BackendWebGPU:
		p.Provider = ProviderCUDA
		if strings.EqualFold(gpuProvider, string(ProviderDirectML)) {
			p.Provider = ProviderDirectML
		}
	case pipeline.BackendWebNN:
		p.Provider = ProviderOpenVINO
		if _, ok := p.ProviderOptions["device_type"]; !ok {
			p.ProviderOptions["device_type"] = openVINODevice(device.Sub)
		}
	default:
		return Plan{}, fmt.Errorf("%w: %q", pipeline.ErrUnknownDevice, device)
	}
	if p.Provider == ProviderCPU && len(p.ProviderOptions) > 0 {
		return Plan{}, fmt.Errorf("device %s takes no provider options, got %v", device, p.ProviderOptions)
	}
	return p, nil
}

func openVINODevice(sub string) string {
	switch sub {
	case "cpu", "gpu", "npu":
		return strings.ToUpper(sub)
	default:
		return "AUTO"
	}
}

// NewSessionOptions builds ONNX Runtime session options for a plan. The
// caller owns the result and must Destroy it.
func NewSessionOptions(p Plan) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := applyPlan(opts, p); err != nil {
		return nil, errors.Join(err, opts.Destroy())
	}
	return opts, nil
}

func applyPlan(opts *ort.SessionOptions, p Plan) error {
	if p.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(p.IntraOpThreads); err != nil {
			return err
		}
	}
	if p.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(p.InterOpThreads); err != nil {
			return err
		}
	}

	switch p.Provider {
	case ProviderCPU:
		return nil
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("CUDA provider unavailable: %w", err)
		}
		defer cuda.Destroy()
		if len(p.ProviderOptions) > 0 {
			if err := cuda.Update(p.ProviderOptions); err != nil {
				return err
			}
		}
		return opts.AppendExecutionProviderCUDA(cuda)
	case ProviderDirectML:
		id := 0
		if v, ok := p.ProviderOptions[OptDeviceID]; ok {
			var err error
			if id, err = strconv.Atoi(v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", OptDeviceID, v, err)
			}
		}
		return opts.AppendExecutionProviderDirectML(id)
	case ProviderOpenVINO:
		return opts.AppendExecutionProviderOpenVINO(maps.Clone(p.ProviderOptions))
	default:
		return fmt.Errorf("unsupported execution provider %q", p.Provider)
	}
}
