package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type ObjectStore interface {
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// EnsureWeights downloads the model weights from the store unless dest
// already exists.
func EnsureWeights(ctx context.Context, store ObjectStore, key, dest string, log *zap.Logger) error {
	if _, err := os.Stat(dest); err == nil {
		log.Info("Model weights present", zap.String("path", dest))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	reader, err := store.DownloadFile(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to download weights %s: %w", key, err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".weights-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}

	log.Info("Model weights downloaded",
		zap.String("key", key),
		zap.String("path", dest),
		zap.Int64("size", size))

	return nil
}
