// Package config loads the engine's startup configuration from YAML with
// environment overrides and fail-fast validation (gopkg.in/yaml.v2 for
// parsing, defaults applied before validation). go-playground/validator/v10
// handles struct-tag validation.
package config

import (
	"fmt"
	"os"
	"strconv"

	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// SimilarityWeights are the configurable per-dimension weights for the
// similarity engine.
type SimilarityWeights struct {
	Histogram        float64 `yaml:"histogram" validate:"gte=0,lte=1"`
	CriticalPresence float64 `yaml:"critical_presence" validate:"gte=0,lte=1"`
	Temporal         float64 `yaml:"temporal" validate:"gte=0,lte=1"`
	Context          float64 `yaml:"context" validate:"gte=0,lte=1"`
}

// Config is the engine's immutable analysis and storage configuration,
// constructed once at startup.
type Config struct {
	AnalysisIntervalSeconds    int               `yaml:"analysis_interval_seconds" validate:"gt=0"`
	DefaultTimeWindowMinutes   int               `yaml:"default_time_window_minutes" validate:"gt=0"`
	MinimumSimilarityThreshold float64           `yaml:"minimum_similarity_threshold" validate:"gte=0,lte=1"`
	HighConfidenceThreshold    float64           `yaml:"high_confidence_threshold" validate:"gte=0,lte=1"`
	MediumConfidenceThreshold  float64           `yaml:"medium_confidence_threshold" validate:"gte=0,lte=1"`
	Weights                    SimilarityWeights `yaml:"weights"`
	DatabasePath               string            `yaml:"database_path" validate:"required"`
	LogDirectory               string            `yaml:"log_directory" validate:"required"`
	SensorRecordPath           string            `yaml:"sensor_record_path" validate:"required"`
}

// Default returns the documented baseline configuration.
func Default() Config {
	return Config{
		AnalysisIntervalSeconds:    10,
		DefaultTimeWindowMinutes:   5,
		MinimumSimilarityThreshold: 0.5,
		HighConfidenceThreshold:    0.85,
		MediumConfidenceThreshold:  0.70,
		Weights: SimilarityWeights{
			Histogram: 0.40, CriticalPresence: 0.35, Temporal: 0.15, Context: 0.10,
		},
		DatabasePath:     "Logs/sentineltrace.db",
		LogDirectory:     "Logs",
		SensorRecordPath: "Logs/sensor-records.log",
	}
}

// Load reads configFile (if non-empty), layers environment overrides on
// top of defaults, and fails fast on validation errors.
func Load(configFile string) (Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configFile, err)
		}
	}

	applyEnvironmentOverrides(&cfg)

	if err := validateWeights(cfg.Weights); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("SENTINELTRACE_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("SENTINELTRACE_LOG_DIRECTORY"); v != "" {
		cfg.LogDirectory = v
	}
	if v := os.Getenv("SENTINELTRACE_SENSOR_RECORD_PATH"); v != "" {
		cfg.SensorRecordPath = v
	}
	if v := os.Getenv("SENTINELTRACE_ANALYSIS_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AnalysisIntervalSeconds = n
		}
	}
}

// validateWeights requires the similarity weights to sum to 1 within 1e-3.
func validateWeights(w SimilarityWeights) error {
	sum := w.Histogram + w.CriticalPresence + w.Temporal + w.Context
	const epsilon = 1e-3
	if sum < 1-epsilon || sum > 1+epsilon {
		return fmt.Errorf("config: similarity weights sum to %.6f, must sum to 1 within %.3f", sum, epsilon)
	}
	return nil
}
