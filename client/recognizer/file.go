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

package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
)

// SidecarSuffix is appended to an image path to find its precomputed embedding.
const SidecarSuffix = ".embedding.json"

// FileRecognizer reads embeddings computed ahead of time. Embed accepts either an embedding file
// (.json, .yaml or .yml) or an image with a sidecar file next to it.
type FileRecognizer struct {
	// ModelName is reported by Model.
	ModelName string
	// Dimension is the expected embedding dimension. Zero accepts any.
	Dimension int
}

// Model returns the configured model name.
func (r *FileRecognizer) Model() string { return r.ModelName }

// Embed reads and normalizes the embedding for imagePath.
func (r *FileRecognizer) Embed(ctx context.Context, imagePath string) (fuzzy.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := embeddingPath(imagePath)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && path != imagePath {
		if _, statErr := os.Stat(imagePath); statErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, statErr)
		}
		return nil, fmt.Errorf("%w: no embedding file %s for image", ErrUnreadableImage, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	values, err := parseEmbedding(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	emb, err := normalize(values, r.Dimension)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return emb, nil
}

func embeddingPath(imagePath string) string {
	switch strings.ToLower(filepath.Ext(imagePath)) {
	case ".json", ".yaml", ".yml":
		return imagePath
	}
	return imagePath + SidecarSuffix
}
