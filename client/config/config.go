// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads biokey configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/biokey/constants"
	"github.com/klauspost/compress/zlib"
	"sigs.k8s.io/yaml"
)

// Recognizer and store kinds.
const (
	RecognizerFile    = "file"
	RecognizerCommand = "command"

	StoreFile   = "file"
	StoreBadger = "badger"
)

// ErrInvalidConfig is returned for configuration values that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Code configures the Reed-Solomon code for new enrollments.
type Code struct {
	// NSym is the number of parity bytes; the code corrects NSym/2 byte errors.
	NSym int `json:"nsym"`
}

// Quantizer configures embedding quantization.
type Quantizer struct {
	Dimension int `json:"dimension"`
}

// Recognizer selects how images become embeddings.
type Recognizer struct {
	// Type is "file" for precomputed embeddings or "command" for an external program.
	Type  string `json:"type"`
	Model string `json:"model"`
	// Command is the program and leading arguments for the "command" type.
	Command []string `json:"command,omitempty"`
	// Dimension overrides Quantizer.Dimension for embedding checks when non-zero.
	Dimension int `json:"dimension,omitempty"`
}

// Store selects where helper records live.
type Store struct {
	// Type is "file" for a directory of helper.json files or "badger" for a Badger database.
	Type string `json:"type"`
	Path string `json:"path"`
}

// Limits bounds recovery attempts per subject. The counters live in memory, so the limit only
// applies within one long-lived BiokeyClient, not across separate runs of the command line tool.
type Limits struct {
	// RecoveryPerMinute is the sustained rate of recovery attempts per subject. Zero disables the limit.
	RecoveryPerMinute float64 `json:"recoveryPerMinute"`
	RecoveryBurst     int     `json:"recoveryBurst"`
}

// Envelope configures message encryption.
type Envelope struct {
	CompressionLevel int `json:"compressionLevel"`
}

// Config is the biokey configuration file.
type Config struct {
	Code       Code       `json:"code"`
	Quantizer  Quantizer  `json:"quantizer"`
	Recognizer Recognizer `json:"recognizer"`
	Store      Store      `json:"store"`
	Limits     Limits     `json:"limits"`
	Envelope   Envelope   `json:"envelope"`
}

// DefaultPath returns the default configuration file location in the user configuration directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory location: %w", err)
	}
	return filepath.Join(dir, constants.DefaultConfigName), nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "biokey-helpers"
	}
	return filepath.Join(dir, "biokey", "helpers")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Code:      Code{NSym: constants.DefaultParitySymbols},
		Quantizer: Quantizer{Dimension: constants.DefaultEmbeddingDimension},
		Recognizer: Recognizer{
			Type:  RecognizerFile,
			Model: constants.DefaultModel,
		},
		Store: Store{
			Type: StoreFile,
			Path: defaultStorePath(),
		},
		Limits: Limits{
			RecoveryPerMinute: 5,
			RecoveryBurst:     3,
		},
		Envelope: Envelope{CompressionLevel: zlib.DefaultCompression},
	}
}

// Parse reads YAML configuration over the defaults. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration file at path. With allowMissing set, a missing file yields the
// defaults.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && allowMissing {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// EmbeddingDimension is the dimension recognizers must produce.
func (c *Config) EmbeddingDimension() int {
	if c.Recognizer.Dimension != 0 {
		return c.Recognizer.Dimension
	}
	return c.Quantizer.Dimension
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	if c.Code.NSym < 1 || c.Code.NSym >= constants.BlockLength {
		return fmt.Errorf("%w: code.nsym must be between 1 and %d, got %d", ErrInvalidConfig, constants.BlockLength-1, c.Code.NSym)
	}
	if c.Quantizer.Dimension < 0 || c.Recognizer.Dimension < 0 {
		return fmt.Errorf("%w: negative embedding dimension", ErrInvalidConfig)
	}
	if c.Quantizer.Dimension != 0 && c.Recognizer.Dimension != 0 && c.Quantizer.Dimension != c.Recognizer.Dimension {
		return fmt.Errorf("%w: recognizer.dimension %d does not match quantizer.dimension %d", ErrInvalidConfig, c.Recognizer.Dimension, c.Quantizer.Dimension)
	}

	switch c.Recognizer.Type {
	case RecognizerFile:
	case RecognizerCommand:
		if len(c.Recognizer.Command) == 0 {
			return fmt.Errorf("%w: recognizer.command is required for the command recognizer", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown recognizer.type %q", ErrInvalidConfig, c.Recognizer.Type)
	}
	if c.Recognizer.Model == "" {
		return fmt.Errorf("%w: recognizer.model is required", ErrInvalidConfig)
	}

	switch c.Store.Type {
	case StoreFile, StoreBadger:
	default:
		return fmt.Errorf("%w: unknown store.type %q", ErrInvalidConfig, c.Store.Type)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}

	if c.Limits.RecoveryPerMinute < 0 {
		return fmt.Errorf("%w: limits.recoveryPerMinute must not be negative", ErrInvalidConfig)
	}
	if c.Limits.RecoveryPerMinute > 0 && c.Limits.RecoveryBurst < 1 {
		return fmt.Errorf("%w: limits.recoveryBurst must be at least 1", ErrInvalidConfig)
	}

	if c.Envelope.CompressionLevel < zlib.HuffmanOnly || c.Envelope.CompressionLevel > zlib.BestCompression {
		return fmt.Errorf("%w: envelope.compressionLevel %d out of range", ErrInvalidConfig, c.Envelope.CompressionLevel)
	}
	return nil
}
