package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/saliency"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/triage"
	"github.com/cyclopcam/dbh"
)

type Config struct {
	Listen      string        `json:"listen"` // eg ":5000"
	DB          dbh.DBConfig  `json:"db"`
	Storage     StorageConfig `json:"storage"`
	Classifier  ModelFiles    `json:"classifier"`
	Policy      ModelFiles    `json:"policy"`
	OnnxLibrary string        `json:"onnxLibrary"` // Path to onnxruntime shared library. Empty means the system default.

	Triage   triage.Params  `json:"triage"` // actionLabels entries are merged into the defaults
	Saliency SaliencyConfig `json:"saliency"`

	MaxUploadMB      int   `json:"maxUploadMB"`
	MaxImagePixels   int64 `json:"maxImagePixels"`   // Width x height of an upload, checked before decoding
	PredictRateLimit int   `json:"predictRateLimit"` // Requests per minute, per client IP, on /predict. Zero disables.
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Uploads go into <root>/images, overlays into <root>/saliency_folder
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"`
}

// ModelFiles is an ONNX graph and its JSON sidecar
type ModelFiles struct {
	Model  string `json:"model"`
	Config string `json:"config"`
}

type SaliencyConfig struct {
	Alpha  float64  `json:"alpha"`
	Bins   int      `json:"bins"`
	Colors []string `json:"colors"` // Hex colors, from cold to hot
}

func DefaultConfig() *Config {
	return &Config{
		Listen: ":5000",
		DB:     dbh.MakeSqliteConfig("data/records.sqlite"),
		Storage: StorageConfig{
			Filesystem: &StorageConfigFS{Root: "static"},
		},
		Classifier: ModelFiles{
			Model:  "models/classifier.onnx",
			Config: "models/classifier.json",
		},
		Policy: ModelFiles{
			Model:  "models/policy.onnx",
			Config: "models/policy.json",
		},
		Triage: triage.DefaultParams(),
		Saliency: SaliencyConfig{
			Alpha:  saliency.DefaultAlpha,
			Bins:   saliency.DefaultBins,
			Colors: append([]string(nil), saliency.DefaultColors...),
		},
		MaxUploadMB:      16,
		MaxImagePixels:   8192 * 8192,
		PredictRateLimit: 60,
	}
}

// LoadConfig reads a JSON config file on top of DefaultConfig.
// If filename is empty, the defaults are returned.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		defaultFS := *cfg.Storage.Filesystem
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", filename, err)
		}
		// Configuring a bucket replaces the default filesystem store
		if cfg.Storage.GCS != nil && cfg.Storage.Filesystem != nil && *cfg.Storage.Filesystem == defaultFS {
			cfg.Storage.Filesystem = nil
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Storage.Filesystem != nil && c.Storage.GCS != nil {
		return errors.New("Only one of the storage options may be configured ('filesystem' or 'gcs')")
	}
	if c.Storage.Filesystem == nil && c.Storage.GCS == nil {
		return errors.New("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if c.Triage.ConfidenceThreshold < 0 || c.Triage.ConfidenceThreshold > 100 {
		return fmt.Errorf("triage.confidenceThreshold must be between 0 and 100, but is %v", c.Triage.ConfidenceThreshold)
	}
	if !(c.Saliency.Alpha > 0 && c.Saliency.Alpha < 1) {
		return fmt.Errorf("saliency.alpha must be between 0 and 1 (exclusive), but is %v", c.Saliency.Alpha)
	}
	if _, err := saliency.ParseColormap(c.Saliency.Colors, c.Saliency.Bins); err != nil {
		return fmt.Errorf("Invalid saliency colormap: %w", err)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("maxUploadMB must be positive, but is %v", c.MaxUploadMB)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("maxImagePixels must be positive, but is %v", c.MaxImagePixels)
	}
	if c.PredictRateLimit < 0 {
		return fmt.Errorf("predictRateLimit may not be negative")
	}
	return nil
}
