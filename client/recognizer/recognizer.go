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

// Package recognizer turns face images into embeddings for the fuzzy extractor.
//
// Face detection and the recognition model run outside this process. A Recognizer either reads
// embeddings that were computed ahead of time or invokes an external command for each image.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"gonum.org/v1/gonum/floats"
	"sigs.k8s.io/yaml"
)

var (
	// ErrNoFaceDetected is returned when an image contains no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrUnreadableImage is returned when an image or its embedding cannot be read.
	ErrUnreadableImage = errors.New("unreadable image")
)

// Recognizer produces a normalized embedding of the face in an image.
type Recognizer interface {
	Embed(ctx context.Context, imagePath string) (fuzzy.Embedding, error)
	// Model names the recognition model. It is stored in helper records so that recovery can detect
	// embeddings from a different model.
	Model() string
}

// face is one detection in an embedding document.
type face struct {
	BBox      []float64 `json:"bbox"`
	Embedding []float64 `json:"embedding"`
}

func (f face) area() float64 {
	if len(f.BBox) != 4 {
		return 0
	}
	return math.Max(0, f.BBox[2]-f.BBox[0]) * math.Max(0, f.BBox[3]-f.BBox[1])
}

// parseEmbedding accepts a JSON or YAML document holding either a bare array of numbers, a single
// face object, or a list of face objects. For a list, the face with the largest bounding box wins.
func parseEmbedding(data []byte) ([]float64, error) {
	var values []float64
	if err := yaml.Unmarshal(data, &values); err == nil {
		return values, nil
	}

	var faces []face
	if err := yaml.Unmarshal(data, &faces); err == nil {
		if len(faces) == 0 {
			return nil, nil
		}
		best := faces[0]
		for _, f := range faces[1:] {
			if f.area() > best.area() {
				best = f
			}
		}
		return best.Embedding, nil
	}

	var single face
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("%w: malformed embedding document: %v", ErrUnreadableImage, err)
	}
	return single.Embedding, nil
}

// normalize checks an embedding and scales it to unit length.
func normalize(values []float64, dimension int) (fuzzy.Embedding, error) {
	if len(values) == 0 {
		return nil, ErrNoFaceDetected
	}
	if dimension != 0 && len(values) != dimension {
		return nil, fmt.Errorf("%w: embedding has dimension %d, expected %d", ErrUnreadableImage, len(values), dimension)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: embedding component %d is not finite", ErrUnreadableImage, i)
		}
	}
	norm := floats.Norm(values, 2)
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero embedding", ErrUnreadableImage)
	}

	scaled := make([]float64, len(values))
	floats.ScaleTo(scaled, 1/norm, values)
	out := make(fuzzy.Embedding, len(scaled))
	for i, v := range scaled {
		out[i] = float32(v)
	}
	return out, nil
}
