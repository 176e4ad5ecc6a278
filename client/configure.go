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

package client

import (
	"fmt"

	"github.com/GoogleCloudPlatform/biokey/client/config"
	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/client/helperstore"
	"github.com/GoogleCloudPlatform/biokey/client/recognizer"
)

// NewRecognizer builds the recognizer selected by cfg.
func NewRecognizer(cfg *config.Config) (recognizer.Recognizer, error) {
	switch cfg.Recognizer.Type {
	case config.RecognizerFile:
		return &recognizer.FileRecognizer{
			ModelName: cfg.Recognizer.Model,
			Dimension: cfg.EmbeddingDimension(),
		}, nil
	case config.RecognizerCommand:
		return &recognizer.CommandRecognizer{
			Command:   cfg.Recognizer.Command,
			ModelName: cfg.Recognizer.Model,
			Dimension: cfg.EmbeddingDimension(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown recognizer type %q", config.ErrInvalidConfig, cfg.Recognizer.Type)
	}
}

// OpenStore opens the helper record store selected by cfg.
func OpenStore(cfg *config.Config) (helperstore.Store, error) {
	switch cfg.Store.Type {
	case config.StoreFile:
		return helperstore.NewFileStore(cfg.Store.Path)
	case config.StoreBadger:
		return helperstore.NewBadgerStore(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", config.ErrInvalidConfig, cfg.Store.Type)
	}
}

// NewFromConfig creates a client with the recognizer, store and limits described by cfg. Options in
// opts are applied after those derived from cfg.
func NewFromConfig(cfg *config.Config, opts ...Option) (*BiokeyClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rec, err := NewRecognizer(cfg)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening helper store: %w", err)
	}

	params := fuzzy.Params{
		ParitySymbols: cfg.Code.NSym,
		Dimension:     cfg.Quantizer.Dimension,
	}
	all := append([]Option{
		WithRateLimit(cfg.Limits.RecoveryPerMinute, cfg.Limits.RecoveryBurst),
		WithCompressionLevel(cfg.Envelope.CompressionLevel),
	}, opts...)

	c, err := New(params, rec, store, all...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}
