package service

import (
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/konaclassify/pipeline"
)

const DefaultTopK = 5

// Classifier is an image-classification pipeline backed by one ONNX Runtime
// session. Runs are serialized because the session binds fixed tensors.
type Classifier struct {
	cfg        pipeline.Config
	session    *ort.AdvancedSession
	input      ort.Value
	output     ort.Value
	inputName  string
	outputName string
	half       bool
	labels     []string
	transform  Transform
	topK       int
	loader     *Loader
	mu         sync.Mutex
}

func (c *Classifier) Config() pipeline.Config { return c.cfg }

func (c *Classifier) Labels() []string { return c.labels }
