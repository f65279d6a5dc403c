package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"detectweb/pkg/utils"
)

const (
	BackendCLI  = "cli"
	BackendONNX = "onnx"

	MatchPrefix = "prefix"
	MatchExact  = "exact"
)

type Config struct {
	Server   ServerConfig
	S3       S3Config
	App      AppConfig
	Detector DetectorConfig
	LogLevel  string
	LogFormat string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
	ModelKey        string
}

type AppConfig struct {
	BaseDir        string
	UploadDir      string
	PredictionsDir string
	MaxUploadSize  int64
	AllowedFormats []string
	CountClasses   []string
	CountMatch     string
	ResultHistory  int
}

type DetectorConfig struct {
	Backend     string
	Command     string
	Model       string
	ImageSize   int
	RunsDir     string
	Confidence  float64
	IoU         float64
	NumClasses  int
	ONNXLibrary string
	Timeout     time.Duration
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("S3_ENABLED", false)
	v.SetDefault("S3_ENDPOINT", "localhost:9000")
	v.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_USE_SSL", false)
	v.SetDefault("S3_BUCKET_NAME", "models")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_MODEL_KEY", "")
	v.SetDefault("APP_BASE_DIR", "")
	v.SetDefault("APP_UPLOAD_DIR", filepath.Join("static", "uploads"))
	v.SetDefault("APP_PREDICTIONS_DIR", filepath.Join("static", "predictions"))
	v.SetDefault("APP_MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("APP_ALLOWED_FORMATS", []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"})
	v.SetDefault("APP_COUNT_CLASSES", []string{"67", "65"})
	v.SetDefault("APP_COUNT_MATCH", MatchPrefix)
	v.SetDefault("APP_RESULT_HISTORY", 64)
	v.SetDefault("DETECTOR_BACKEND", BackendCLI)
	v.SetDefault("DETECTOR_COMMAND", "yolo")
	v.SetDefault("DETECTOR_MODEL", "yolo11m.pt")
	v.SetDefault("DETECTOR_IMAGE_SIZE", 320)
	v.SetDefault("DETECTOR_RUNS_DIR", filepath.Join("runs", "detect", "predict"))
	v.SetDefault("DETECTOR_CONFIDENCE", 0.25)
	v.SetDefault("DETECTOR_IOU", 0.7)
	v.SetDefault("DETECTOR_NUM_CLASSES", 80)
	v.SetDefault("DETECTOR_ONNX_LIBRARY", "")
	v.SetDefault("DETECTOR_TIMEOUT", time.Duration(0))

	v.AutomaticEnv()

	baseDir, err := resolveBaseDir(v.GetString("APP_BASE_DIR"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("SERVER_HOST"),
			Port:         v.GetString("SERVER_PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		S3: S3Config{
			Enabled:         v.GetBool("S3_ENABLED"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			UseSSL:          v.GetBool("S3_USE_SSL"),
			BucketName:      v.GetString("S3_BUCKET_NAME"),
			Region:          v.GetString("S3_REGION"),
			ModelKey:        v.GetString("S3_MODEL_KEY"),
		},
		App: AppConfig{
			BaseDir:        baseDir,
			UploadDir:      resolve(baseDir, v.GetString("APP_UPLOAD_DIR")),
			PredictionsDir: resolve(baseDir, v.GetString("APP_PREDICTIONS_DIR")),
			MaxUploadSize:  v.GetInt64("APP_MAX_UPLOAD_SIZE"),
			AllowedFormats: normalizeFormats(splitList(v.GetStringSlice("APP_ALLOWED_FORMATS"))),
			CountClasses:   splitList(v.GetStringSlice("APP_COUNT_CLASSES")),
			CountMatch:     strings.ToLower(v.GetString("APP_COUNT_MATCH")),
			ResultHistory:  v.GetInt("APP_RESULT_HISTORY"),
		},
		Detector: DetectorConfig{
			Backend:     strings.ToLower(v.GetString("DETECTOR_BACKEND")),
			Command:     v.GetString("DETECTOR_COMMAND"),
			Model:       v.GetString("DETECTOR_MODEL"),
			ImageSize:   v.GetInt("DETECTOR_IMAGE_SIZE"),
			RunsDir:     resolve(baseDir, v.GetString("DETECTOR_RUNS_DIR")),
			Confidence:  v.GetFloat64("DETECTOR_CONFIDENCE"),
			IoU:         v.GetFloat64("DETECTOR_IOU"),
			NumClasses:  v.GetInt("DETECTOR_NUM_CLASSES"),
			ONNXLibrary: v.GetString("DETECTOR_ONNX_LIBRARY"),
			Timeout:     v.GetDuration("DETECTOR_TIMEOUT"),
		},
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	// A bare weights name is left for the detector tool to look up itself,
	// unless it has to be fetched into the base dir first.
	if cfg.S3.Enabled || filepath.Dir(cfg.Detector.Model) != "." {
		cfg.Detector.Model = resolve(baseDir, cfg.Detector.Model)
	}

	// The in-process backend decodes and re-encodes with imaging, which
	// has no codec for some formats the CLI tool reads (WebP).
	if cfg.Detector.Backend == BackendONNX {
		cfg.App.AllowedFormats = utils.DecodableFormats(cfg.App.AllowedFormats)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := createDirs(cfg); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Detector.Backend {
	case BackendCLI, BackendONNX:
	default:
		return fmt.Errorf("unknown detector backend %q", c.Detector.Backend)
	}
	switch c.App.CountMatch {
	case MatchPrefix, MatchExact:
	default:
		return fmt.Errorf("unknown count match mode %q", c.App.CountMatch)
	}
	if c.Detector.Backend == BackendONNX && !strings.EqualFold(filepath.Ext(c.Detector.Model), ".onnx") {
		return fmt.Errorf("onnx backend needs an .onnx model, got %q", c.Detector.Model)
	}
	if c.Detector.ImageSize <= 0 || c.Detector.ImageSize%32 != 0 {
		return fmt.Errorf("detector image size must be a positive multiple of 32, got %d", c.Detector.ImageSize)
	}
	if c.App.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if len(c.App.AllowedFormats) == 0 {
		return fmt.Errorf("no upload formats allowed for the %s backend", c.Detector.Backend)
	}
	if len(c.App.CountClasses) == 0 {
		return fmt.Errorf("no classes to count")
	}
	if c.S3.Enabled && c.S3.ModelKey == "" {
		return fmt.Errorf("S3_MODEL_KEY is required when S3 is enabled")
	}
	return nil
}

// resolveBaseDir defaults to the directory holding the executable so that
// storage does not depend on the working directory.
func resolveBaseDir(dir string) (string, error) {
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		dir = filepath.Dir(exe)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base dir %s: %w", dir, err)
	}
	return abs, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// splitList accepts both real lists and a single comma separated env value.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

func normalizeFormats(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		out = append(out, f)
	}
	return out
}

func createDirs(cfg *Config) error {
	dirs := []string{
		cfg.App.UploadDir,
		cfg.App.PredictionsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
