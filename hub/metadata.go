package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

const (
	ConfigFile       = "config.json"
	PreprocessorFile = "preprocessor_config.json"
)

// OnnxFile is the repository path of an ONNX export.
func OnnxFile(name string) string { return "onnx/" + name }

// ModelConfig is the subset of config.json needed for classification.
type ModelConfig struct {
	ID2Label map[string]string `json:"id2label"`
}

// Labels orders id2label by class index. Gaps are filled with "LABEL_<i>".
func (m *ModelConfig) Labels() []string {
	type entry struct {
		idx   int
		label string
	}
	entries := make([]entry, 0, len(m.ID2Label))
	maxIdx := -1
	for k, v := range m.ID2Label {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			continue
		}
		entries = append(entries, entry{i, v})
		maxIdx = max(maxIdx, i)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].idx < entries[b].idx })

	labels := make([]string, maxIdx+1)
	for i := range labels {
		labels[i] = fmt.Sprintf("LABEL_%d", i)
	}
	for _, e := range entries {
		labels[e.idx] = e.label
	}
	return labels
}

func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mc ModelConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFile, err)
	}
	return &mc, nil
}

// SizeSpec is the "size"/"crop_size" block. Processors write it as a bare
// number, {"height","width"} or {"shortest_edge"}.
type SizeSpec struct {
	Height       int `json:"height,omitempty"`
	Width        int `json:"width,omitempty"`
	ShortestEdge int `json:"shortest_edge,omitempty"`
}

func (s *SizeSpec) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*s = SizeSpec{Height: n, Width: n}
		return nil
	}
	type plain SizeSpec
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = SizeSpec(p)
	return nil
}

func (s *SizeSpec) Fixed() bool { return s != nil && s.Height > 0 && s.Width > 0 }

// PreprocessorConfig mirrors preprocessor_config.json.
type PreprocessorConfig struct {
	DoResize      *bool     `json:"do_resize,omitempty"`
	Size          *SizeSpec `json:"size,omitempty"`
	Resample      *int      `json:"resample,omitempty"`
	DoCenterCrop  *bool     `json:"do_center_crop,omitempty"`
	CropSize      *SizeSpec `json:"crop_size,omitempty"`
	CropPct       float64   `json:"crop_pct,omitempty"`
	DoRescale     *bool     `json:"do_rescale,omitempty"`
	RescaleFactor float32   `json:"rescale_factor,omitempty"`
	DoNormalize   *bool     `json:"do_normalize,omitempty"`
	ImageMean     []float32 `json:"image_mean,omitempty"`
	ImageStd      []float32 `json:"image_std,omitempty"`
}

var (
	DefaultImageMean = [3]float32{0.485, 0.456, 0.406}
	DefaultImageStd  = [3]float32{0.229, 0.224, 0.225}
)

const DefaultImageSize = 224

func LoadPreprocessorConfig(path string) (*PreprocessorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePreprocessorConfig(data)
}

func ParsePreprocessorConfig(data []byte) (*PreprocessorConfig, error) {
	var pc PreprocessorConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", PreprocessorFile, err)
	}
	return &pc, nil
}

func flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func (p *PreprocessorConfig) Resize() bool     { return flag(p.DoResize, true) }
func (p *PreprocessorConfig) CenterCrop() bool { return flag(p.DoCenterCrop, p.CropSize != nil) }
func (p *PreprocessorConfig) Rescale() bool    { return flag(p.DoRescale, true) }
func (p *PreprocessorConfig) Normalize() bool  { return flag(p.DoNormalize, true) }

func (p *PreprocessorConfig) Factor() float32 {
	if p.RescaleFactor == 0 {
		return 1.0 / 255.0
	}
	return p.RescaleFactor
}

func (p *PreprocessorConfig) Mean() [3]float32 { return triple(p.ImageMean, DefaultImageMean) }

// Std falls back to the defaults when any entry is zero, since normalizing
// by it would turn every pixel into Inf or NaN.
func (p *PreprocessorConfig) Std() [3]float32 {
	std := triple(p.ImageStd, DefaultImageStd)
	for _, v := range std {
		if v == 0 {
			return DefaultImageStd
		}
	}
	return std
}

func triple(v []float32, def [3]float32) [3]float32 {
	switch len(v) {
	case 1:
		return [3]float32{v[0], v[0], v[0]}
	case 3:
		return [3]float32{v[0], v[1], v[2]}
	default:
		return def
	}
}
