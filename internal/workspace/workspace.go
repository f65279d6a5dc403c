// Package workspace owns the two directories the app writes to: the upload
// directory and the prediction slot, which holds at most the latest
// annotated image.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"detectweb/pkg/utils"
)

var ErrNotFound = errors.New("file not found")

type Workspace struct {
	uploadDir      string
	predictionsDir string
	runsDir        string
	log            *zap.Logger
}

// New prepares the upload and prediction directories. runsDir is the
// detector's own output directory; it is only ever removed.
func New(uploadDir, predictionsDir, runsDir string, log *zap.Logger) (*Workspace, error) {
	for _, dir := range []string{uploadDir, predictionsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Workspace{
		uploadDir:      uploadDir,
		predictionsDir: predictionsDir,
		runsDir:        runsDir,
		log:            log.Named("workspace"),
	}, nil
}

func (w *Workspace) UploadDir() string      { return w.uploadDir }
func (w *Workspace) PredictionsDir() string { return w.predictionsDir }

// Reset drops the previous detector run and empties the prediction slot.
func (w *Workspace) Reset() error {
	if w.runsDir != "" {
		if err := os.RemoveAll(w.runsDir); err != nil {
			return fmt.Errorf("failed to clear run directory: %w", err)
		}
	}

	if err := os.RemoveAll(w.predictionsDir); err != nil {
		return fmt.Errorf("failed to clear prediction slot: %w", err)
	}
	if err := os.MkdirAll(w.predictionsDir, 0755); err != nil {
		return fmt.Errorf("failed to recreate prediction slot: %w", err)
	}

	w.log.Debug("Workspace reset",
		zap.String("runs_dir", w.runsDir),
		zap.String("predictions_dir", w.predictionsDir))

	return nil
}

// SaveUpload stores r under a generated name that keeps only the lower
// cased extension of originalName.
func (w *Workspace) SaveUpload(originalName string, r io.Reader) (string, string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	path := filepath.Join(w.uploadDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create upload file: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close upload file: %w", err)
	}

	w.log.Info("Upload stored",
		zap.String("original_name", originalName),
		zap.String("stored_name", name),
		zap.Int64("size", size))

	return name, path, nil
}

// Promote copies src into the prediction slot and returns its name there.
func (w *Workspace) Promote(src string) (string, error) {
	name := filepath.Base(src)
	if err := utils.CopyFile(src, filepath.Join(w.predictionsDir, name)); err != nil {
		return "", fmt.Errorf("failed to promote prediction: %w", err)
	}

	w.log.Info("Prediction promoted", zap.String("name", name))

	return name, nil
}

// Current returns the name of the file in the prediction slot, or "" when
// the slot is empty.
func (w *Workspace) Current() (string, error) {
	entries, err := os.ReadDir(w.predictionsDir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}

	sort.Strings(names)
	return names[0], nil
}

func (w *Workspace) UploadPath(name string) (string, error) {
	return lookup(w.uploadDir, name)
}

func (w *Workspace) PredictionPath(name string) (string, error) {
	return lookup(w.predictionsDir, name)
}

// lookup resolves a client supplied name inside dir without letting it
// climb out.
func lookup(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", ErrNotFound
	}

	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}

	return path, nil
}
