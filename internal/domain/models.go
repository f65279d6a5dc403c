package domain

import (
	"time"
)

// Result describes one upload and what the detector made of it.
type Result struct {
	ID             string      `json:"id"`
	OriginalName   string      `json:"original_name"`
	StoredName     string      `json:"stored_name"`
	PredictionName string      `json:"prediction_name,omitempty"`
	HasPrediction  bool        `json:"has_prediction"`
	Count          int         `json:"count"`
	Detections     []Detection `json:"detections"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Detection is one object found by the model. Box holds normalised
// centre x, centre y, width and height as written in label files.
type Detection struct {
	ClassID    int        `json:"class_id"`
	Box        [4]float64 `json:"box"`
	Confidence float64    `json:"confidence,omitempty"`
}
