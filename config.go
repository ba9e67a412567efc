package flashsr

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ModelInputRate is the only rate the super-resolution model accepts.
	ModelInputRate = 16000
	// ModelOutputRate is the fixed rate the model produces.
	ModelOutputRate = 48000
	// DefaultInputRate is the rate of the upstream TTS voice.
	DefaultInputRate = 24000

	DefaultChunkSeconds      = 5
	DefaultMinSegmentSamples = 1000
)

// Device is an execution target for inference.
type Device string

// Devices accepted in Config.Device.
const (
	DeviceCPU         Device = "cpu"
	DeviceGPU         Device = "gpu"
	DeviceAccelerator Device = "accelerator"
)

// Config holds the upsampler configuration. Zero values are not filled in
// silently; start from DefaultConfig.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Device   string `yaml:"device"`    // cpu, gpu or accelerator; anything else runs on cpu
	ModelDir string `yaml:"model_dir"` // models are cached under <model_dir>/flashsr

	RepoID       string `yaml:"repo_id"`
	Revision     string `yaml:"revision"`
	Subfolder    string `yaml:"subfolder"`
	Filename     string `yaml:"filename"`
	HalfFilename string `yaml:"half_filename"` // optional fp16 export, used on gpu
	HubURL       string `yaml:"hub_url"`

	ChunkSeconds      int `yaml:"chunk_seconds"`
	MinSegmentSamples int `yaml:"min_segment_samples"`

	// ORTLibraryPath overrides discovery of the onnxruntime shared library.
	ORTLibraryPath string `yaml:"ort_library_path"`
}

// DefaultConfig returns the configuration used by the speech service.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Device:            string(DeviceCPU),
		ModelDir:          "models",
		RepoID:            "YatharthS/FlashSR",
		Revision:          "main",
		Subfolder:         "onnx",
		Filename:          "model.onnx",
		HubURL:            "https://huggingface.co",
		ChunkSeconds:      DefaultChunkSeconds,
		MinSegmentSamples: DefaultMinSegmentSamples,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FLASHSR_DEVICE, FLASHSR_MODEL_DIR,
// ENABLE_FLASHSR and ONNXRUNTIME_LIB when they are set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("FLASHSR_DEVICE"); v != "" {
		c.Device = v
	}
	if v := os.Getenv("FLASHSR_MODEL_DIR"); v != "" {
		c.ModelDir = v
	}
	if v := os.Getenv("ONNXRUNTIME_LIB"); v != "" {
		c.ORTLibraryPath = v
	}
	if v := os.Getenv("ENABLE_FLASHSR"); v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: ENABLE_FLASHSR: %w", err)
		}
		c.Enabled = enabled
	}
	return nil
}

// validateConfig checks Config and returns an error on invalid or missing
// values. The device string is not checked here; unknown devices degrade to
// cpu when the model is loaded.
func validateConfig(cfg Config) error {
	if cfg.ModelDir == "" {
		return errors.New("config: ModelDir is required")
	}
	if cfg.RepoID == "" {
		return errors.New("config: RepoID is required")
	}
	if cfg.Filename == "" {
		return errors.New("config: Filename is required")
	}
	if cfg.ChunkSeconds <= 0 {
		return errors.New("config: ChunkSeconds must be > 0")
	}
	if cfg.MinSegmentSamples < 0 {
		return errors.New("config: MinSegmentSamples must be >= 0")
	}
	if cfg.ORTLibraryPath != "" {
		if _, err := os.Stat(cfg.ORTLibraryPath); err != nil {
			if os.IsNotExist(err) {
				return errors.New("config: onnxruntime library not found: " + cfg.ORTLibraryPath)
			}
			return err
		}
	}
	return nil
}
