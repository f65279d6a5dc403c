// Package detectortest provides a Detector that fakes a model run by
// copying the source image and writing canned labels.
package detectortest

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"detectweb/internal/detector"
	"detectweb/pkg/utils"
)

type Fake struct {
	Dir string
	// Labels is written verbatim to the label file; empty writes none.
	Labels string
	// SkipImage leaves no annotated image behind.
	SkipImage bool
	Err       error

	mu    sync.Mutex
	calls []string
}

func (f *Fake) Layout() detector.Layout {
	return detector.Layout{Dir: f.Dir}
}

func (f *Fake) Predict(_ context.Context, imagePath string) error {
	f.mu.Lock()
	f.calls = append(f.calls, imagePath)
	f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	layout := f.Layout()
	if err := os.MkdirAll(filepath.Join(layout.Dir, "labels"), 0755); err != nil {
		return err
	}
	if !f.SkipImage {
		if err := utils.CopyFile(imagePath, layout.ImagePath(imagePath)); err != nil {
			return err
		}
	}
	if f.Labels != "" {
		return os.WriteFile(layout.LabelPath(imagePath), []byte(f.Labels), 0644)
	}
	return nil
}

func (f *Fake) Close() error { return nil }

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
