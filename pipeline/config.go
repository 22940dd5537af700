package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const TaskImageClassification = "image-classification"

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownDtype  = errors.New("unknown dtype")
	ErrUnknownTask   = errors.New("unsupported task")
)

// Config identifies a pipeline instance. Two requests share an instance only
// when every field is equal.
type Config struct {
	Task           string            `json:"task"`
	Model          string            `json:"model"`
	Device         string            `json:"device"`
	Dtype          Dtype             `json:"dtype"`
	SessionOptions map[string]string `json:"session_options,omitempty"`
}

// Equal compares all fields. SessionOptions is compared by content and a nil
// map equals an empty one.
func (c Config) Equal(o Config) bool {
	return c.Task == o.Task &&
		c.Model == o.Model &&
		c.Device == o.Device &&
		c.Dtype == o.Dtype &&
		maps.Equal(c.SessionOptions, o.SessionOptions)
}

func (c Config) Validate() error {
	if c.Task == "" {
		return errors.New("task is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if _, err := ParseDevice(c.Device); err != nil {
		return err
	}
	if !c.Dtype.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDtype, c.Dtype)
	}
	return nil
}

// Key renders the config on one line for logs.
func (c Config) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s|%s", c.Task, c.Model, c.Device, c.Dtype)
	for _, k := range slices.Sorted(maps.Keys(c.SessionOptions)) {
		fmt.Fprintf(&sb, "|%s=%s", k, c.SessionOptions[k])
	}
	return sb.String()
}

type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendWasm   Backend = "wasm"
	BackendWebGPU Backend = "webgpu"
	BackendWebNN  Backend = "webnn"
)

// Device is the parsed form of Config.Device, e.g. "webnn-npu".
type Device struct {
	Backend Backend
	Sub     string // "", "cpu", "gpu" or "npu"
}

func (d Device) String() string {
	if d.Sub == "" {
		return string(d.Backend)
	}
	return string(d.Backend) + "-" + d.Sub
}

func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	backend, sub, _ := strings.Cut(s, "-")
	d := Device{Backend: Backend(backend), Sub: sub}
	switch d.Backend {
	case BackendAuto, BackendWasm, BackendWebGPU, BackendWebNN:
	default:
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, s)
	}
	switch d.Sub {
	case "", "cpu", "gpu", "npu":
	default:
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, s)
	}
	return d, nil
}

// Dtype selects which quantized export of a model is loaded.
type Dtype string

const (
	DtypeFP32  Dtype = "fp32"
	DtypeFP16  Dtype = "fp16"
	DtypeQ8    Dtype = "q8"
	DtypeInt8  Dtype = "int8"
	DtypeUint8 Dtype = "uint8"
	DtypeQ4    Dtype = "q4"
	DtypeQ4F16 Dtype = "q4f16"
	DtypeBNB4  Dtype = "bnb4"
)

// Dtypes lists every supported dtype.
var Dtypes = []Dtype{DtypeFP32, DtypeFP16, DtypeQ8, DtypeInt8, DtypeUint8, DtypeQ4, DtypeQ4F16, DtypeBNB4}

var dtypeSuffixes = map[Dtype]string{
	DtypeFP32:  "",
	DtypeFP16:  "_fp16",
	DtypeQ8:    "_quantized",
	DtypeInt8:  "_int8",
	DtypeUint8: "_uint8",
	DtypeQ4:    "_q4",
	DtypeQ4F16: "_q4f16",
	DtypeBNB4:  "_bnb4",
}

func (d Dtype) Valid() bool {
	_, ok := dtypeSuffixes[d]
	return ok
}

// Half reports whether the export computes in float16.
func (d Dtype) Half() bool { return d == DtypeFP16 || d == DtypeQ4F16 }

// FileName is the ONNX export for this dtype, relative to the model's onnx/ dir.
func (d Dtype) FileName() string {
	return "model" + dtypeSuffixes[d] + ".onnx"
}
