package detector

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"detectweb/internal/config"
)

const outputTail = 2048

// CLIDetector shells out to the ultralytics command line tool.
type CLIDetector struct {
	command  string
	baseArgs []string
	model    string
	imgSize  int
	conf     float64
	iou      float64
	timeout  time.Duration
	layout   Layout
	log      *zap.Logger
}

func NewCLIDetector(cfg *config.DetectorConfig, layout Layout, log *zap.Logger) *CLIDetector {
	return &CLIDetector{
		command: cfg.Command,
		model:   cfg.Model,
		imgSize: cfg.ImageSize,
		conf:    cfg.Confidence,
		iou:     cfg.IoU,
		timeout: cfg.Timeout,
		layout:  layout,
		log:     log.Named("detector"),
	}
}

func (d *CLIDetector) Layout() Layout { return d.layout }

func (d *CLIDetector) Close() error { return nil }

func (d *CLIDetector) args(imagePath string) []string {
	args := append([]string{}, d.baseArgs...)
	return append(args,
		"predict",
		"model="+d.model,
		"source="+imagePath,
		"imgsz="+strconv.Itoa(d.imgSize),
		"conf="+strconv.FormatFloat(d.conf, 'f', -1, 64),
		"iou="+strconv.FormatFloat(d.iou, 'f', -1, 64),
		"save=True",
		"save_txt=True",
		"project="+filepath.Dir(d.layout.Dir),
		"name="+filepath.Base(d.layout.Dir),
		"exist_ok=True",
		"verbose=False",
	)
}

func (d *CLIDetector) Predict(ctx context.Context, imagePath string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, d.command, d.args(imagePath)...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		d.log.Error("Detector command failed",
			zap.String("image", imagePath),
			zap.String("output", tail(out.Bytes())),
			zap.Error(err))
		return fmt.Errorf("detector command failed: %w: %s", err, tail(out.Bytes()))
	}

	d.log.Info("Detection finished",
		zap.String("image", imagePath),
		zap.Duration("took", time.Since(start)))

	return nil
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > outputTail {
		b = b[len(b)-outputTail:]
	}
	return string(b)
}
