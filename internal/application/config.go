package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

// Config is the runtime configuration of the scoring service.
// Use LoadConfig or ParseConfig to obtain a validated Config with defaults
// applied; the zero value is not usable.
type Config struct {
	// Engine controls indicator gating and out-of-range handling.
	Engine EngineConfig `yaml:"engine" validate:"required"`
	// Batch controls tabular ingestion.
	Batch BatchConfig `yaml:"batch" validate:"required"`
}

// EngineConfig holds the scoring orchestrator settings.
type EngineConfig struct {
	// WeightForAgeMaxMonths is the oldest age, in total months, for which
	// weight-for-age is computed.
	WeightForAgeMaxMonths int `yaml:"weight_for_age_max_months" validate:"min=0,max=240"`
	// HeightForAgeMaxMonths is the oldest age for height-for-age.
	HeightForAgeMaxMonths int `yaml:"height_for_age_max_months" validate:"min=0,max=240"`
	// BMIForAgeMaxMonths is the oldest age for BMI-for-age.
	BMIForAgeMaxMonths int `yaml:"bmi_for_age_max_months" validate:"min=0,max=240"`
	// BelowRangeZ is reported for values below the lowest reference value.
	BelowRangeZ float64 `yaml:"below_range_z" validate:"lt=-3"`
	// AboveRangeZ is reported for values above the highest reference value.
	AboveRangeZ float64 `yaml:"above_range_z" validate:"gt=3"`
	// ReportIndeterminate keeps indicators without reference data in the
	// output with a nil Z-score instead of omitting them.
	ReportIndeterminate bool `yaml:"report_indeterminate"`
}

// BatchConfig holds batch ingestion settings.
type BatchConfig struct {
	// SniffLines is how many leading lines delimiter detection inspects.
	SniffLines int `yaml:"sniff_lines" validate:"min=1,max=100"`
	// MaxRows caps the number of data rows in one batch. Zero disables the cap.
	MaxRows int `yaml:"max_rows" validate:"min=0"`
}

// Default configuration values.
const (
	DefaultWeightForAgeMaxMonths = 120
	DefaultHeightForAgeMaxMonths = 228
	DefaultBMIForAgeMaxMonths    = 228
	DefaultSniffLines            = 3
)

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			WeightForAgeMaxMonths: DefaultWeightForAgeMaxMonths,
			HeightForAgeMaxMonths: DefaultHeightForAgeMaxMonths,
			BMIForAgeMaxMonths:    DefaultBMIForAgeMaxMonths,
			BelowRangeZ:           domain.DefaultBelowRangeZ,
			AboveRangeZ:           domain.DefaultAboveRangeZ,
		},
		Batch: BatchConfig{SniffLines: DefaultSniffLines},
	}
}

// Sentinels returns the out-of-range Z-scores as a domain value.
func (c EngineConfig) Sentinels() domain.Sentinels {
	return domain.Sentinels{Below: c.BelowRangeZ, Above: c.AboveRangeZ}
}

// MaxMonths returns the gating age for an indicator.
func (c EngineConfig) MaxMonths(ind domain.Indicator) int {
	switch ind {
	case domain.IndicatorWeightForAge:
		return c.WeightForAgeMaxMonths
	case domain.IndicatorHeightForAge:
		return c.HeightForAgeMaxMonths
	case domain.IndicatorBMIForAge:
		return c.BMIForAgeMaxMonths
	default:
		return -1
	}
}

var configValidator = validator.New()

// LoadConfig reads and validates a YAML configuration file. Keys missing
// from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, ports.NewConfigError(path, ports.ErrConfigNotFound)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig in strict mode, rejecting
// unknown keys, and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return nil
}
