package service

import (
	"image"
	"image/color"
	"math"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"github.com/krau/konaclassify/hub"
	"github.com/krau/konaclassify/pipeline"
)

// Transform is the resolved preprocessing of a model: resize, center crop,
// rescale and normalize into a CHW float tensor.
type Transform struct {
	ResizeW, ResizeH int // exact resize when both are set
	ShortestEdge     int // otherwise scale the shortest edge to this
	CropW, CropH     int
	Rescale          float32
	Normalize        bool
	Mean, Std        [3]float32
	Filter           imaging.ResampleFilter
}

func NewTransform(pc *hub.PreprocessorConfig) Transform {
	if pc == nil {
		pc = &hub.PreprocessorConfig{}
	}
	t := Transform{
		Rescale:   1,
		Normalize: pc.Normalize(),
		Mean:      pc.Mean(),
		Std:       pc.Std(),
		Filter:    resampleFilter(pc.Resample),
	}
	if pc.Rescale() {
		t.Rescale = pc.Factor()
	}

	switch {
	case !pc.Resize():
	case pc.Size.Fixed():
		t.ResizeW, t.ResizeH = pc.Size.Width, pc.Size.Height
	case pc.Size != nil && pc.Size.ShortestEdge > 0:
		se := pc.Size.ShortestEdge
		if pc.CropPct > 0 && pc.CropSize == nil {
			// timm/ConvNeXt style: enlarge by 1/crop_pct then crop back
			if se < 384 {
				t.ShortestEdge = int(float64(se) / pc.CropPct)
				t.CropW, t.CropH = se, se
			} else {
				t.ResizeW, t.ResizeH = se, se
			}
		} else {
			t.ShortestEdge = se
		}
	default:
		t.ResizeW, t.ResizeH = hub.DefaultImageSize, hub.DefaultImageSize
	}

	if pc.CenterCrop() && pc.CropSize.Fixed() {
		t.CropW, t.CropH = pc.CropSize.Width, pc.CropSize.Height
	}
	if t.CropW == 0 && t.ResizeW == 0 {
		// the tensor needs a fixed size
		s := t.ShortestEdge
		if s == 0 {
			s = hub.DefaultImageSize
		}
		t.CropW, t.CropH = s, s
	}
	return t
}

// Size is the width and height of the produced tensor.
func (t Transform) Size() (int, int) {
	if t.CropW > 0 {
		return t.CropW, t.CropH
	}
	return t.ResizeW, t.ResizeH
}

func resampleFilter(v *int) imaging.ResampleFilter {
	if v == nil {
		return imaging.Linear
	}
	// PIL resampling constants
	switch *v {
	case 0:
		return imaging.NearestNeighbor
	case 1:
		return imaging.Lanczos
	case 3:
		return imaging.CatmullRom
	default:
		return imaging.Linear
	}
}

// Apply prepares img for model input as planar RGB.
func (t Transform) Apply(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch {
	case t.ResizeW > 0 && t.ResizeH > 0:
		img = imaging.Resize(img, t.ResizeW, t.ResizeH, t.Filter)
	case t.ShortestEdge > 0 && w > 0 && h > 0:
		if w <= h {
			img = imaging.Resize(img, t.ShortestEdge, 0, t.Filter)
		} else {
			img = imaging.Resize(img, 0, t.ShortestEdge, t.Filter)
		}
	}

	ow, oh := t.Size()
	if t.CropW > 0 {
		img = imaging.CropCenter(img, t.CropW, t.CropH)
		// white padding when the image is smaller than the crop
		if img.Bounds().Dx() < t.CropW || img.Bounds().Dy() < t.CropH {
			canvas := imaging.New(t.CropW, t.CropH, color.White)
			img = imaging.PasteCenter(canvas, img)
		}
	}

	plane := ow * oh
	out := make([]float32, 3*plane)
	rBase := 0
	gBase := plane
	bBase := 2 * plane

	for y := range oh {
		for x := range ow {
			r, g, b, _ := img.At(img.Bounds().Min.X+x, img.Bounds().Min.Y+y).RGBA()
			px := [3]float32{
				float32(r>>8) * t.Rescale,
				float32(g>>8) * t.Rescale,
				float32(b>>8) * t.Rescale,
			}
			if t.Normalize {
				for c := range px {
					px[c] = (px[c] - t.Mean[c]) / t.Std[c]
				}
			}
			out[rBase] = px[0]
			out[gBase] = px[1]
			out[bBase] = px[2]

			rBase++
			gBase++
			bBase++
		}
	}
	return out
}

// Softmax turns logits into probabilities.
func Softmax(logits []float32) []float32 {
	xs := make([]float64, len(logits))
	for i, v := range logits {
		xs[i] = float64(v)
	}
	if len(xs) == 0 {
		return nil
	}
	lse := floats.LogSumExp(xs)
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(math.Exp(x - lse))
	}
	return out
}

// TopK pairs scores with labels and keeps the k best, highest first.
func TopK(scores []float32, labels []string, k int) []pipeline.Prediction {
	items := make([]pipeline.Prediction, len(scores))
	for i, s := range scores {
		label := "LABEL_" + strconv.Itoa(i)
		if i < len(labels) {
			label = labels[i]
		}
		items[i] = pipeline.Prediction{Label: label, Score: s}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	if k > 0 && k < len(items) {
		items = items[:k]
	}
	return items
}
