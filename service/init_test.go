package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krau/konaclassify/pipeline"
)

func TestNewRejectsBadConfigBeforeLoading(t *testing.T) {
	base := pipeline.Config{Task: pipeline.TaskImageClassification, Model: "Xenova/resnet-50", Device: "wasm", Dtype: pipeline.DtypeFP32}

	var events []pipeline.Progress
	progress := func(p pipeline.Progress) { events = append(events, p) }

	task := base
	task.Task = "text-generation"
	_, err := New(context.Background(), task, Options{}, progress)
	assert.ErrorIs(t, err, pipeline.ErrUnknownTask)

	device := base
	device.Device = "tpu"
	_, err = New(context.Background(), device, Options{}, progress)
	assert.ErrorIs(t, err, pipeline.ErrUnknownDevice)

	opts := base
	opts.SessionOptions = map[string]string{"intra_op_num_threads": "lots"}
	_, err = New(context.Background(), opts, Options{}, progress)
	assert.Error(t, err)

	assert.Empty(t, events, "nothing is fetched for an invalid configuration")
}
