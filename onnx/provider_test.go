package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/konaclassify/pipeline"
)

func mustDevice(t *testing.T, s string) pipeline.Device {
	t.Helper()
	d, err := pipeline.ParseDevice(s)
	require.NoError(t, err)
	return d
}

func TestNewPlanProviders(t *testing.T) {
	tests := []struct {
		device   string
		gpu      string
		provider Provider
		opts     map[string]string
	}{
		{device: "auto", provider: ProviderCPU, opts: map[string]string{}},
		{device: "wasm", provider: ProviderCPU, opts: map[string]string{}},
		{device: "webgpu", gpu: "cuda", provider: ProviderCUDA, opts: map[string]string{}},
		{device: "webgpu", gpu: "DirectML", provider: ProviderDirectML, opts: map[string]string{}},
		{device: "webnn", provider: ProviderOpenVINO, opts: map[string]string{"device_type": "AUTO"}},
		{device: "webnn-npu", provider: ProviderOpenVINO, opts: map[string]string{"device_type": "NPU"}},
		{device: "webnn-gpu", provider: ProviderOpenVINO, opts: map[string]string{"device_type": "GPU"}},
	}
	for _, tt := range tests {
		t.Run(tt.device+"/"+tt.gpu, func(t *testing.T) {
			p, err := NewPlan(mustDevice(t, tt.device), nil, tt.gpu)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, p.Provider)
			assert.Equal(t, tt.opts, p.ProviderOptions)
		})
	}
}

func TestNewPlanSessionOptions(t *testing.T) {
	p, err := NewPlan(mustDevice(t, "webnn-cpu"), map[string]string{
		OptIntraOpThreads: "4",
		"device_type":     "GPU.1",
		"num_of_threads":  "8",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 4, p.IntraOpThreads)
	assert.Equal(t, map[string]string{"device_type": "GPU.1", "num_of_threads": "8"}, p.ProviderOptions)

	p, err = NewPlan(mustDevice(t, "wasm"), map[string]string{OptInterOpThreads: "2"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, p.InterOpThreads)

	_, err = NewPlan(mustDevice(t, "wasm"), map[string]string{OptIntraOpThreads: "many"}, "")
	assert.Error(t, err)

	_, err = NewPlan(mustDevice(t, "wasm"), map[string]string{"device_type": "GPU"}, "")
	assert.Error(t, err, "cpu execution takes no provider options")
}

func TestDefaultLibPath(t *testing.T) {
	assert.Equal(t, "/usr/lib/libonnxruntime.so", defaultLibPath("linux"))
	assert.Equal(t, "/usr/local/lib/libonnxruntime.dylib", defaultLibPath("darwin"))
	assert.Empty(t, defaultLibPath("plan9"))
}
