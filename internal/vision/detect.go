package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facelinker/internal/models"
)

// candidate is a raw decoded anchor before suppression.
type candidate struct {
	bbox  [4]float32 // x1, y1, x2, y2 in original pixel coordinates
	score float32
}

// detector runs RetinaFace det_10g. Not safe for concurrent use.
type detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const anchorsPerStride = 2

const nmsIoU = 0.4

func newDetector(modelPath string, threshold float32) (*detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Per stride, (640/stride)^2 * 2 anchors; outputs carry no batch dimension.
	outputs := []struct {
		name  string
		shape ort.Shape
	}{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	d := &detector{
		inputTensor: inputTensor,
		threshold:   threshold,
		inputW:      inputW,
		inputH:      inputH,
	}

	outputNames := make([]string, len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, out := range outputs {
		t, err := ort.NewEmptyTensor[float32](out.shape)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		outputNames[i] = out.name
		outputValues[i] = t
		d.outputTensors = append(d.outputTensors, t)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// detect runs the model on CHW input and returns suppressed detections
// scaled back to origW x origH.
func (d *detector) detect(input []float32, origW, origH int) ([]models.Detection, error) {
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	kept := nms(d.decode(origW, origH), nmsIoU)

	out := make([]models.Detection, 0, len(kept))
	for _, c := range kept {
		box := models.BoundingBox{
			X:      int(c.bbox[0]),
			Y:      int(c.bbox[1]),
			Width:  int(math.Round(float64(c.bbox[2] - c.bbox[0]))),
			Height: int(math.Round(float64(c.bbox[3] - c.bbox[1]))),
		}
		if box.Empty() {
			continue
		}
		out = append(out, models.Detection{Box: box, Confidence: float64(c.score)})
	}
	return out, nil
}

// decode turns anchor outputs into candidates above the score threshold.
// Box offsets are distances from the anchor centre in stride units.
func (d *detector) decode(origW, origH int) []candidate {
	var out []candidate

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()

		fmW, fmH := d.inputW/stride, d.inputH/stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if score := scores[idx]; score >= d.threshold {
						ax, ay := float32(cx)*st, float32(cy)*st
						out = append(out, candidate{
							bbox: [4]float32{
								clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
								clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							score: score,
						})
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// nms keeps the highest scoring candidates, dropping any that overlap a kept
// one by more than iouThreshold. Output is ordered by descending score.
func nms(cands []candidate, iouThreshold float32) []candidate {
	if len(cands) == 0 {
		return cands
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	keep := make([]bool, len(cands))
	for i := range keep {
		keep[i] = true
	}
	for i := range cands {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if keep[j] && iou(cands[i].bbox, cands[j].bbox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []candidate
	for i, c := range cands {
		if keep[i] {
			result = append(result, c)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	intersection := max(0, x2-x1) * max(0, y2-y1)

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
