package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/saliency"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	fn := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(fn, []byte(body), 0644))
	return fn
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":5000", cfg.Listen)
	require.Equal(t, "static", cfg.Storage.Filesystem.Root)
	require.Equal(t, 63.0, cfg.Triage.ConfidenceThreshold)
	require.Equal(t, 60, cfg.PredictRateLimit)
	require.Equal(t, int64(8192*8192), cfg.MaxImagePixels)
	require.Equal(t, saliency.DefaultBins, cfg.Saliency.Bins)
}

func TestLoadConfig(t *testing.T) {
	fn := writeConfig(t, `{
		"listen": ":8080",
		"storage": {"gcs": {"bucket": "xrays"}},
		"triage": {"confidenceThreshold": 70, "actionLabels": {"1": "Pneumonia (RL)"}},
		"saliency": {"colors": ["#000000", "#ffffff"]},
		"predictRateLimit": 0
	}`)
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Nil(t, cfg.Storage.Filesystem)
	require.Equal(t, "xrays", cfg.Storage.GCS.Bucket)
	require.Equal(t, 70.0, cfg.Triage.ConfidenceThreshold)
	require.Equal(t, "Pneumonia (RL)", cfg.Triage.ActionLabels[1])
	require.Equal(t, "Normal", cfg.Triage.ActionLabels[0])
	require.Equal(t, "PNEUMONIA", cfg.Triage.PositiveLabel)
	require.Equal(t, []string{"#000000", "#ffffff"}, cfg.Saliency.Colors)
	require.Equal(t, 0, cfg.PredictRateLimit)

	// Loading must not disturb the package defaults
	require.Equal(t, "#0000ff", saliency.DefaultColors[0])
}

func TestInvalidConfig(t *testing.T) {
	for _, body := range []string{
		`{"saliency": {"alpha": 1.5}}`,
		`{"saliency": {"colors": ["#ff0000"]}}`,
		`{"triage": {"confidenceThreshold": 101}}`,
		`{"maxUploadMB": 0}`,
		`{"maxImagePixels": 0}`,
		`{"storage": {"filesystem": null}}`,
		`{"storage": {"filesystem": {"root": "x"}, "gcs": {"bucket": "y"}}}`,
		`{not json`,
	} {
		_, err := LoadConfig(writeConfig(t, body))
		require.Error(t, err, body)
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
