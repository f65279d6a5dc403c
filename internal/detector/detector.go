// Package detector runs a pretrained object detector over one image and
// leaves an annotated copy plus a label file on disk.
package detector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"detectweb/internal/config"
)

// Detector writes its artifacts at the paths given by its Layout.
// Predict blocks until the run is finished.
type Detector interface {
	Predict(ctx context.Context, imagePath string) error
	Layout() Layout
	Close() error
}

// Layout is the run output convention: the annotated image keeps the input
// file name and the labels go to labels/<stem>.txt.
type Layout struct {
	Dir string
}

func (l Layout) ImagePath(src string) string {
	return filepath.Join(l.Dir, filepath.Base(src))
}

func (l Layout) LabelPath(src string) string {
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(l.Dir, "labels", stem+".txt")
}

func New(cfg *config.DetectorConfig, log *zap.Logger) (Detector, error) {
	layout := Layout{Dir: cfg.RunsDir}

	switch cfg.Backend {
	case config.BackendCLI:
		return NewCLIDetector(cfg, layout, log), nil
	case config.BackendONNX:
		return NewONNXDetector(cfg, layout, log)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}
