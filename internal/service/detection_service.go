package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"detectweb/internal/detector"
	"detectweb/internal/domain"
	"detectweb/internal/labels"
	"detectweb/internal/repository"
	"detectweb/internal/workspace"
)

type DetectionService interface {
	Detect(ctx context.Context, originalName string, body io.Reader) (*domain.Result, error)
	Current() (string, error)
	Result(id string) (*domain.Result, bool)
}

type detectionService struct {
	// mu makes reset, save, detect and promote one step, so a request
	// never reports a slot another request has already replaced.
	mu sync.Mutex

	ws      *workspace.Workspace
	det     detector.Detector
	results repository.ResultRepository
	matcher labels.Matcher
	log     *zap.Logger
}

func NewDetectionService(ws *workspace.Workspace, det detector.Detector, results repository.ResultRepository, matcher labels.Matcher, log *zap.Logger) DetectionService {
	return &detectionService{
		ws:      ws,
		det:     det,
		results: results,
		matcher: matcher,
		log:     log.Named("service"),
	}
}

func (s *detectionService) Detect(ctx context.Context, originalName string, body io.Reader) (*domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The caller may have gone while waiting for the lock; keep the slot.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	if err := s.ws.Reset(); err != nil {
		return nil, err
	}

	storedName, uploadPath, err := s.ws.SaveUpload(originalName, body)
	if err != nil {
		return nil, err
	}

	if err := s.det.Predict(ctx, uploadPath); err != nil {
		return nil, fmt.Errorf("detection failed for %s: %w", storedName, err)
	}

	layout := s.det.Layout()
	result := &domain.Result{
		ID:             uuid.NewString(),
		OriginalName:   originalName,
		StoredName:     storedName,
		PredictionName: filepath.Base(uploadPath),
		CreatedAt:      time.Now().UTC(),
	}

	imagePath := layout.ImagePath(uploadPath)
	switch _, err := os.Stat(imagePath); {
	case err == nil:
		if _, err := s.ws.Promote(imagePath); err != nil {
			return nil, err
		}
		result.HasPrediction = true
	case errors.Is(err, os.ErrNotExist):
		s.log.Warn("Detector left no annotated image",
			zap.String("stored_name", storedName),
			zap.String("expected", imagePath))
	default:
		return nil, fmt.Errorf("failed to inspect detector output: %w", err)
	}

	labelPath := layout.LabelPath(uploadPath)
	if result.Count, err = labels.CountFile(labelPath, s.matcher); err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	if result.Detections, err = labels.ParseFile(labelPath); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}

	s.results.Save(result)

	s.log.Info("Image processed",
		zap.String("id", result.ID),
		zap.String("original_name", originalName),
		zap.String("stored_name", storedName),
		zap.Bool("has_prediction", result.HasPrediction),
		zap.Int("detections", len(result.Detections)),
		zap.Int("count", result.Count),
		zap.Duration("took", time.Since(start)))

	return result, nil
}

func (s *detectionService) Current() (string, error) {
	return s.ws.Current()
}

func (s *detectionService) Result(id string) (*domain.Result, bool) {
	return s.results.Get(id)
}
