package detector

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"detectweb/internal/domain"
	"detectweb/internal/labels"
)

var (
	strides     = []int{8, 16, 32}
	padColor    = color.NRGBA{R: 114, G: 114, B: 114, A: 255}
	outlineLine = color.NRGBA{R: 0, G: 255, B: 0, A: 255}
)

// box is a detection in original image pixels.
type box struct {
	classID        int
	conf           float32
	x1, y1, x2, y2 float32
}

func (b box) area() float32 {
	return max(0, b.x2-b.x1) * max(0, b.y2-b.y1)
}

func iou(a, b box) float32 {
	ix1, iy1 := max(a.x1, b.x1), max(a.y1, b.y1)
	ix2, iy2 := min(a.x2, b.x2), min(a.y2, b.y2)
	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// anchorCount is the number of candidate boxes an anchor-free YOLO head
// emits for a square input of the given size.
func anchorCount(size int) int {
	n := 0
	for _, s := range strides {
		g := size / s
		n += g * g
	}
	return n
}

// letterbox maps between the original image and the padded square the
// model sees.
type letterbox struct {
	width, height int
	size          int
	scale         float32
	resizedW      int
	resizedH      int
	padX, padY    int
}

func newLetterbox(width, height, size int) letterbox {
	scale := min(float32(size)/float32(width), float32(size)/float32(height))
	nw := max(1, int(float32(width)*scale+0.5))
	nh := max(1, int(float32(height)*scale+0.5))
	return letterbox{
		width:    width,
		height:   height,
		size:     size,
		scale:    scale,
		resizedW: nw,
		resizedH: nh,
		padX:     (size - nw) / 2,
		padY:     (size - nh) / 2,
	}
}

func (lb letterbox) apply(img image.Image) *image.NRGBA {
	resized := imaging.Resize(img, lb.resizedW, lb.resizedH, imaging.Linear)
	canvas := imaging.New(lb.size, lb.size, padColor)
	return imaging.Paste(canvas, resized, image.Pt(lb.padX, lb.padY))
}

// toImage converts a centre/size box in model space to clamped corners in
// original image space.
func (lb letterbox) toImage(cx, cy, w, h float32) (float32, float32, float32, float32) {
	x1 := (cx - w/2 - float32(lb.padX)) / lb.scale
	y1 := (cy - h/2 - float32(lb.padY)) / lb.scale
	x2 := (cx + w/2 - float32(lb.padX)) / lb.scale
	y2 := (cy + h/2 - float32(lb.padY)) / lb.scale

	fw, fh := float32(lb.width), float32(lb.height)
	return clamp(x1, 0, fw), clamp(y1, 0, fh), clamp(x2, 0, fw), clamp(y2, 0, fh)
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(hi, v))
}

// fillTensor writes img as normalised CHW floats into dst.
func fillTensor(img *image.NRGBA, dst []float32) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	channelSize := w * h
	if len(dst) != 3*channelSize {
		return fmt.Errorf("input tensor holds %d values, image needs %d", len(dst), 3*channelSize)
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		offset := y * w
		for x := 0; x < w; x++ {
			p := row[x*4:]
			i := offset + x
			dst[i] = float32(p[0]) / 255.0
			dst[channelSize+i] = float32(p[1]) / 255.0
			dst[2*channelSize+i] = float32(p[2]) / 255.0
		}
	}
	return nil
}

// decode reads a [4+numClasses, anchors] output, rows first.
func decode(out []float32, numClasses, anchors int, threshold float32, lb letterbox) ([]box, error) {
	if want := (4 + numClasses) * anchors; len(out) != want {
		return nil, fmt.Errorf("unexpected output length: got %d, want %d", len(out), want)
	}

	var boxes []box
	for i := 0; i < anchors; i++ {
		classID := -1
		best := threshold
		for c := 0; c < numClasses; c++ {
			if score := out[(4+c)*anchors+i]; score >= best {
				best = score
				classID = c
			}
		}
		if classID < 0 {
			continue
		}

		x1, y1, x2, y2 := lb.toImage(out[i], out[anchors+i], out[2*anchors+i], out[3*anchors+i])
		b := box{classID: classID, conf: best, x1: x1, y1: y1, x2: x2, y2: y2}
		if b.area() <= 0 {
			continue
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

// nms keeps the highest scoring box of every overlapping group of the
// same class.
func nms(boxes []box, threshold float32) []box {
	sort.Slice(boxes, func(i, j int) bool {
		return boxes[i].conf > boxes[j].conf
	})

	kept := make([]box, 0, len(boxes))
	for _, candidate := range boxes {
		overlaps := false
		for _, k := range kept {
			if k.classID == candidate.classID && iou(k, candidate) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func (b box) detection(width, height int) domain.Detection {
	fw, fh := float64(width), float64(height)
	return domain.Detection{
		ClassID: b.classID,
		Box: [4]float64{
			float64(b.x1+b.x2) / 2 / fw,
			float64(b.y1+b.y2) / 2 / fh,
			float64(b.x2-b.x1) / fw,
			float64(b.y2-b.y1) / fh,
		},
		Confidence: float64(b.conf),
	}
}

func annotate(img image.Image, boxes []box) *image.NRGBA {
	out := imaging.Clone(img)
	bounds := out.Bounds()
	thickness := max(2, min(bounds.Dx(), bounds.Dy())/200)

	for _, b := range boxes {
		drawRect(out, int(b.x1), int(b.y1), int(b.x2), int(b.y2), thickness, outlineLine)
	}
	return out
}

func drawRect(img *image.NRGBA, x1, y1, x2, y2, thickness int, col color.Color) {
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}

func writeLabels(path string, boxes []box, width, height int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var sb strings.Builder
	for _, b := range boxes {
		sb.WriteString(labels.Format(b.detection(width, height)))
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
