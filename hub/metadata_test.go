package hub

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsOrderedByIndex(t *testing.T) {
	mc := ModelConfig{ID2Label: map[string]string{"2": "plane", "0": "cat", "x": "ignored"}}
	if diff := cmp.Diff([]string{"cat", "LABEL_1", "plane"}, mc.Labels()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePreprocessorConfigSizes(t *testing.T) {
	tests := []struct {
		name string
		data string
		size SizeSpec
	}{
		{"number", `{"size": 224}`, SizeSpec{Height: 224, Width: 224}},
		{"height width", `{"size": {"height": 256, "width": 192}}`, SizeSpec{Height: 256, Width: 192}},
		{"shortest edge", `{"size": {"shortest_edge": 224}, "crop_pct": 0.875}`, SizeSpec{ShortestEdge: 224}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := ParsePreprocessorConfig([]byte(tt.data))
			require.NoError(t, err)
			require.NotNil(t, pc.Size)
			assert.Equal(t, tt.size, *pc.Size)
		})
	}
}

func TestPreprocessorDefaults(t *testing.T) {
	pc, err := ParsePreprocessorConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.True(t, pc.Resize())
	assert.False(t, pc.CenterCrop())
	assert.True(t, pc.Rescale())
	assert.True(t, pc.Normalize())
	assert.InDelta(t, 1.0/255.0, pc.Factor(), 1e-9)
	assert.Equal(t, DefaultImageMean, pc.Mean())
	assert.Equal(t, DefaultImageStd, pc.Std())

	pc, err = ParsePreprocessorConfig([]byte(`{"image_mean":[0.5],"image_std":[0.5,0.5,0.5],"crop_size":{"height":256,"width":256},"do_normalize":false}`))
	require.NoError(t, err)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, pc.Mean())
	assert.True(t, pc.CenterCrop())
	assert.False(t, pc.Normalize())
}

func TestPreprocessorZeroStdFallsBack(t *testing.T) {
	pc, err := ParsePreprocessorConfig([]byte(`{"image_std":[0.5,0,0.5]}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultImageStd, pc.Std())

	pc, err = ParsePreprocessorConfig([]byte(`{"image_std":[0]}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultImageStd, pc.Std())
}

func TestParsePreprocessorConfigInvalid(t *testing.T) {
	_, err := ParsePreprocessorConfig([]byte(`{"size": "big"}`))
	assert.Error(t, err)
}
