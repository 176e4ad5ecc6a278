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

package fuzzy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/GoogleCloudPlatform/biokey/client/internal/mt19937"
	"gonum.org/v1/gonum/floats"
)

// Embedding is a feature vector produced by a face recognizer.
type Embedding []float32

// ProjectionSeed fixes the random hyperplanes used by the Quantizer.
type ProjectionSeed []byte

// Quantizer maps embeddings to bit strings with random hyperplanes.
//
// Bit i of the output is the sign of the projection of the embedding onto hyperplane i. Two readings
// of the same subject lie at a small angle, so most of their bits agree; the remaining flips are
// absorbed by the error-correcting code.
type Quantizer struct {
	// Dimension is the expected embedding dimension. Zero accepts any non-empty embedding.
	Dimension int
}

// Quantize returns ceil(outputBits/8) bytes, packed most significant bit first. The result depends
// only on its arguments.
func (q Quantizer) Quantize(embedding Embedding, seed ProjectionSeed, outputBits int) ([]byte, error) {
	if err := q.checkEmbedding(embedding); err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: empty projection seed", ErrInvalidInput)
	}
	if outputBits <= 0 {
		return nil, fmt.Errorf("%w: output length %d bits", ErrInvalidInput, outputBits)
	}

	emb := make([]float64, len(embedding))
	for i, v := range embedding {
		emb[i] = float64(v)
	}

	// Hyperplanes are drawn row by row from the seeded stream and rounded to float32, so only the
	// current one needs to be kept in memory.
	src := mt19937.New(streamSeed(seed))
	plane := make([]float64, len(emb))
	out := make([]byte, (outputBits+7)/8)
	for i := 0; i < outputBits; i++ {
		for j := range plane {
			plane[j] = float64(float32(src.NormFloat64()))
		}
		if floats.Dot(plane, emb) >= 0 {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out, nil
}

func (q Quantizer) checkEmbedding(embedding Embedding) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrInvalidInput)
	}
	if q.Dimension != 0 && len(embedding) != q.Dimension {
		return fmt.Errorf("%w: embedding has dimension %d, expected %d", ErrInvalidInput, len(embedding), q.Dimension)
	}
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: embedding component %d is not finite", ErrInvalidInput, i)
		}
	}
	return nil
}

// streamSeed reduces a projection seed of any length to the 32-bit generator seed: the first four
// bytes of its SHA-256 digest, big endian.
func streamSeed(seed ProjectionSeed) uint32 {
	digest := sha256.Sum256(seed)
	return binary.BigEndian.Uint32(digest[:4])
}

// HammingDistance returns the number of differing bits between two equal length bit strings.
func HammingDistance(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: lengths %d and %d differ", ErrInvalidInput, len(a), len(b))
	}
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d, nil
}

// SymbolDistance returns the number of differing bytes between two equal length strings, which is
// the error count the Reed-Solomon decoder sees.
func SymbolDistance(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: lengths %d and %d differ", ErrInvalidInput, len(a), len(b))
	}
	d := 0
	for i := range a {
		if a[i] != b[i] {
			d++
		}
	}
	return d, nil
}
