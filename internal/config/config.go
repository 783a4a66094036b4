// Package config loads hypermatch settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hypermatch/internal/match"
	"hypermatch/internal/similarity"
	"hypermatch/internal/verify"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HYPERMATCH_"

// MatchConfig configures hyperedge and point matching.
type MatchConfig struct {
	Weights        similarity.Weights `yaml:"weights"` // CANG, CRAT and CDESC follow the CLI flag names
	Threshold      float64            `yaml:"threshold" env:"THRESHOLD"`
	Sigma          float64            `yaml:"sigma" env:"SIGMA"`
	DescSigma      float64            `yaml:"desc_sigma" env:"DESC_SIGMA"`
	PointThreshold float64            `yaml:"point_threshold" env:"POINT_THRESHOLD"`
	Dedup          string             `yaml:"dedup" env:"DEDUP"`
	Backend        string             `yaml:"backend" env:"BACKEND"`
	Workers        int                `yaml:"workers" env:"WORKERS"`
	MaxMatrixCells int                `yaml:"max_matrix_cells" env:"MAX_MATRIX_CELLS"`
	Fallback       bool               `yaml:"fallback" env:"FALLBACK"`
}

// FeaturesConfig selects the keypoint detector.
type FeaturesConfig struct {
	Detector string `yaml:"detector" env:"DETECTOR"`
	Limit    int    `yaml:"limit" env:"LIMIT"` // Strongest keypoints kept per image; 0 keeps all
	// MaxDim downscales images whose longer side exceeds it before
	// detection; 0 keeps the original resolution.
	MaxDim int `yaml:"max_dim" env:"MAX_DIM"`
}

// VerifyConfig configures RANSAC verification of point matches.
type VerifyConfig struct {
	Enabled    bool    `yaml:"enabled" env:"VERIFY"`
	Iterations int     `yaml:"iterations"`
	Threshold  float64 `yaml:"threshold"`
	MinInliers int     `yaml:"min_inliers"`
	Seed       int64   `yaml:"seed"`
}

// RenderConfig configures the overlay images.
type RenderConfig struct {
	PointRadius   int `yaml:"point_radius"`
	LineThickness int `yaml:"line_thickness"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Match    MatchConfig    `yaml:"match"`
	Features FeaturesConfig `yaml:"features"`
	Verify   VerifyConfig   `yaml:"verify"`
	Render   RenderConfig   `yaml:"render"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	p := match.DefaultParams()
	v := verify.DefaultParams()
	return &AppConfig{
		Match: MatchConfig{
			Weights:        p.Weights,
			Threshold:      p.Threshold,
			Sigma:          p.Sigma,
			DescSigma:      p.DescSigma,
			PointThreshold: p.PointThreshold,
			Dedup:          p.Dedup.String(),
			Backend:        p.Backend.String(),
			Workers:        p.Workers,
			MaxMatrixCells: p.MaxMatrixCells,
			Fallback:       p.Fallback,
		},
		Features: FeaturesConfig{Detector: "sift"},
		Verify: VerifyConfig{
			Enabled:    true,
			Iterations: v.Iterations,
			Threshold:  v.Threshold,
			MinInliers: v.MinInliers,
			Seed:       v.Seed,
		},
		Render:   RenderConfig{PointRadius: 3, LineThickness: 1},
		LogLevel: "info",
	}
}

// Load reads a config from path. Keys missing from the file keep their
// defaults. If the file does not exist, defaults are returned.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./hypermatch.yaml first, then
// ~/.config/hypermatch/config.yaml. If neither exists, it writes defaults to
// the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "hypermatch.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hypermatch", "config.yaml"), nil
}

// ApplyEnv overrides cfg from HYPERMATCH_* environment variables. Unset and
// empty variables leave the loaded value alone.
func ApplyEnv(cfg *AppConfig) error {
	return applyEnv(cfg, nil)
}

// applyEnv reads from environ, or the process environment when it is nil.
func applyEnv(cfg *AppConfig, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// MatchParams converts the match section into validated matcher parameters.
func (c *AppConfig) MatchParams() (match.Params, error) {
	backend, err := match.ParseBackend(c.Match.Backend)
	if err != nil {
		return match.Params{}, err
	}
	dedup, err := match.ParseDedup(c.Match.Dedup)
	if err != nil {
		return match.Params{}, err
	}

	p := match.DefaultParams().
		WithWeights(c.Match.Weights.Area, c.Match.Weights.Angle, c.Match.Weights.Desc).
		WithThreshold(c.Match.Threshold).
		WithBackend(backend, c.Match.Workers).
		WithDedup(dedup)
	p.Sigma = c.Match.Sigma
	p.DescSigma = c.Match.DescSigma
	p.PointThreshold = c.Match.PointThreshold
	p.MaxMatrixCells = c.Match.MaxMatrixCells
	p.Fallback = c.Match.Fallback

	if err := p.Validate(); err != nil {
		return match.Params{}, err
	}
	return p, nil
}

// VerifyParams converts the verify section into RANSAC parameters.
func (c *AppConfig) VerifyParams() verify.Params {
	return verify.Params{
		Iterations: c.Verify.Iterations,
		Threshold:  c.Verify.Threshold,
		MinInliers: c.Verify.MinInliers,
		Seed:       c.Verify.Seed,
	}
}

// Level parses LogLevel. An empty level is info.
func (c *AppConfig) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
