package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/x448/float16"

	"github.com/krau/konaclassify/pipeline"
)

// Classify loads input through the classifier's Loader and predicts it.
func (c *Classifier) Classify(ctx context.Context, input string) ([]pipeline.Prediction, error) {
	if c.loader == nil {
		return nil, errors.New("classifier has no image loader")
	}
	img, err := c.loader.Load(ctx, input)
	if err != nil {
		return nil, err
	}
	return c.Predict(ctx, img)
}

func (c *Classifier) Predict(ctx context.Context, img image.Image) ([]pipeline.Prediction, error) {
	inputData := c.transform.Apply(img)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("model not initialized")
	}

	if err := writeTensor(c.input, inputData); err != nil {
		return nil, err
	}
	if err := c.session.Run(); err != nil {
		return nil, err
	}
	logits, err := readTensor(c.output)
	if err != nil {
		return nil, err
	}
	return TopK(Softmax(logits), c.labels, c.topK), nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := errors.Join(c.session.Destroy(), c.input.Destroy(), c.output.Destroy())
	c.session = nil
	return err
}

func writeTensor(v ort.Value, data []float32) error {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		copy(t.GetData(), data)
	case *ort.CustomDataTensor:
		encodeHalf(t.GetData(), data)
	default:
		return fmt.Errorf("unsupported input tensor %T", v)
	}
	return nil
}

// readTensor copies the output so it survives the next run.
func readTensor(v ort.Value) ([]float32, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		src := t.GetData()
		out := make([]float32, len(src))
		copy(out, src)
		return out, nil
	case *ort.CustomDataTensor:
		return decodeHalf(t.GetData()), nil
	default:
		return nil, fmt.Errorf("unsupported output tensor %T", v)
	}
}

func encodeHalf(dst []byte, src []float32) {
	for i, f := range src {
		if 2*i+1 >= len(dst) {
			return
		}
		binary.LittleEndian.PutUint16(dst[2*i:], float16.Fromfloat32(f).Bits())
	}
}

func decodeHalf(src []byte) []float32 {
	out := make([]float32, len(src)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(src[2*i:])).Float32()
	}
	return out
}
