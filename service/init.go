package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/konaclassify/hub"
	"github.com/krau/konaclassify/onnx"
	"github.com/krau/konaclassify/pipeline"
)

type Options struct {
	Hub         *hub.Client
	Loader      *Loader
	TopK        int
	GPUProvider string
}

// NewConstructor adapts New for pipeline.Cache.
func NewConstructor(o Options) pipeline.Constructor {
	return func(ctx context.Context, cfg pipeline.Config, progress pipeline.ProgressFunc) (pipeline.Instance, error) {
		return New(ctx, cfg, o, progress)
	}
}

// New fetches the model files for cfg and opens an ONNX Runtime session on
// the requested device.
func New(ctx context.Context, cfg pipeline.Config, o Options, progress pipeline.ProgressFunc) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Task != pipeline.TaskImageClassification {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownTask, cfg.Task)
	}
	device, err := pipeline.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	plan, err := onnx.NewPlan(device, cfg.SessionOptions, o.GPUProvider)
	if err != nil {
		return nil, err
	}

	files := []string{hub.ConfigFile, hub.PreprocessorFile, hub.OnnxFile(cfg.Dtype.FileName())}
	for _, f := range files {
		progress.Emit(pipeline.Progress{Status: pipeline.StatusInitiate, Name: cfg.Model, File: f})
	}
	paths, err := o.Hub.FetchAll(ctx, cfg.Model, files, progress)
	if err != nil {
		return nil, err
	}
	modelConfig, err := hub.LoadModelConfig(paths[0])
	if err != nil {
		return nil, err
	}
	preprocessor, err := hub.LoadPreprocessorConfig(paths[1])
	if err != nil {
		return nil, err
	}
	onnxPath := paths[2]

	if err := onnx.Init(); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("model has no inputs or outputs")
	}

	transform := NewTransform(preprocessor)
	labels := modelConfig.Labels()
	numClasses := len(labels)
	if dims := outputs[0].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		numClasses = int(dims[len(dims)-1])
	}
	if numClasses == 0 {
		return nil, errors.New("cannot determine the number of classes")
	}

	half := inputs[0].DataType == ort.TensorElementDataTypeFloat16
	w, h := transform.Size()
	inputTensor, err := newTensor(ort.NewShape(1, 3, int64(h), int64(w)), half)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := newTensor(ort.NewShape(1, int64(numClasses)), outputs[0].DataType == ort.TensorElementDataTypeFloat16)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create output tensor: %w", err), inputTensor.Destroy())
	}

	opts, err := onnx.NewSessionOptions(plan)
	if err != nil {
		return nil, errors.Join(err, inputTensor.Destroy(), outputTensor.Destroy())
	}
	defer opts.Destroy()

	session, err := ort.NewAdvancedSession(
		onnxPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create ONNX Runtime session: %w", err), inputTensor.Destroy(), outputTensor.Destroy())
	}

	topK := o.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	slog.Info("Loaded model",
		slog.String("model", cfg.Model),
		slog.String("file", onnxPath),
		slog.String("provider", string(plan.Provider)),
		slog.Int("classes", numClasses),
		slog.Bool("fp16_io", half),
	)
	progress.Emit(pipeline.Progress{Status: pipeline.StatusReady, Name: cfg.Model})

	return &Classifier{
		cfg:        cfg,
		session:    session,
		input:      inputTensor,
		output:     outputTensor,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		half:       half,
		labels:     labels,
		transform:  transform,
		topK:       topK,
		loader:     o.Loader,
	}, nil
}

func newTensor(shape ort.Shape, half bool) (ort.Value, error) {
	if half {
		return ort.NewCustomDataTensor(shape, make([]byte, 2*shape.FlattenedSize()), ort.TensorElementDataTypeFloat16)
	}
	return ort.NewEmptyTensor[float32](shape)
}
