package detector

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"detectweb/internal/config"
)

// ONNXDetector runs a YOLOv8/YOLO11 ONNX export in process. The export is
// expected to take "images" [1,3,size,size] and return "output0"
// [1,4+classes,anchors].
type ONNXDetector struct {
	mu sync.Mutex

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	size       int
	numClasses int
	anchors    int
	conf       float32
	iou        float32
	timeout    time.Duration
	layout     Layout
	log        *zap.Logger
}

func NewONNXDetector(cfg *config.DetectorConfig, layout Layout, log *zap.Logger) (*ONNXDetector, error) {
	if cfg.ONNXLibrary != "" {
		ort.SetSharedLibraryPath(cfg.ONNXLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	d := &ONNXDetector{
		size:       cfg.ImageSize,
		numClasses: cfg.NumClasses,
		anchors:    anchorCount(cfg.ImageSize),
		conf:       float32(cfg.Confidence),
		iou:        float32(cfg.IoU),
		timeout:    cfg.Timeout,
		layout:     layout,
		log:        log.Named("detector"),
	}

	if err := d.initSession(cfg.Model); err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	d.log.Info("ONNX model loaded",
		zap.String("model", cfg.Model),
		zap.Int("image_size", d.size),
		zap.Int("classes", d.numClasses),
		zap.Int("anchors", d.anchors))

	return d, nil
}

func (d *ONNXDetector) initSession(modelPath string) error {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(1)

	inputShape := ort.NewShape(1, 3, int64(d.size), int64(d.size))
	outputShape := ort.NewShape(1, int64(4+d.numClasses), int64(d.anchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("error creating session: %w", err)
	}

	d.session = session
	d.input = inputTensor
	d.output = outputTensor
	return nil
}

func (d *ONNXDetector) Layout() Layout { return d.layout }

func (d *ONNXDetector) Predict(ctx context.Context, imagePath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()

	img, err := imaging.Open(imagePath)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	lb := newLetterbox(bounds.Dx(), bounds.Dy(), d.size)

	if err := fillTensor(lb.apply(img), d.input.GetData()); err != nil {
		return fmt.Errorf("prepare input buffer: %w", err)
	}

	// The session itself cannot be interrupted.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.session.Run(); err != nil {
		return fmt.Errorf("model inference: %w", err)
	}

	candidates, err := decode(d.output.GetData(), d.numClasses, d.anchors, d.conf, lb)
	if err != nil {
		return fmt.Errorf("process predictions: %w", err)
	}
	boxes := nms(candidates, d.iou)

	if err := writeLabels(d.layout.LabelPath(imagePath), boxes, bounds.Dx(), bounds.Dy()); err != nil {
		return fmt.Errorf("write labels: %w", err)
	}
	if err := imaging.Save(annotate(img, boxes), d.layout.ImagePath(imagePath)); err != nil {
		return fmt.Errorf("save annotated image: %w", err)
	}

	d.log.Info("Detection finished",
		zap.String("image", imagePath),
		zap.Int("candidates", len(candidates)),
		zap.Int("detections", len(boxes)),
		zap.Duration("took", time.Since(start)))

	return nil
}

func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	if d.output != nil {
		d.output.Destroy()
	}
	return ort.DestroyEnvironment()
}
