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

// Package fuzzy implements a fuzzy extractor for face embeddings using the code-offset (fuzzy
// commitment) construction.
//
// Enrollment draws a random secret, encodes it with a Reed-Solomon code and masks the codeword with
// the quantized enrollment embedding. The masked codeword and a digest of the secret form the public
// HelperRecord. Recovery quantizes a fresh embedding, unmasks the codeword, corrects the byte errors
// caused by the difference between the two readings and checks the digest. Any failure is a
// rejection; a wrong secret is never returned.
//
// The construction leaks some structure of the codeword to holders of the helper record, since the
// mask is a biased function of the subject's embedding. It is suitable for binding key material to
// a face, not for hiding the face template itself.
package fuzzy

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/GoogleCloudPlatform/biokey/client/internal/reedsolomon"
	"github.com/GoogleCloudPlatform/biokey/constants"
	"github.com/google/tink/go/subtle/random"
)

// Params configures an Extractor.
type Params struct {
	// ParitySymbols is the number of Reed-Solomon parity bytes used for new enrollments.
	ParitySymbols int
	// Dimension is the expected embedding dimension. Zero accepts any dimension.
	Dimension int
	// Model is recorded in new helper records.
	Model string
}

// DefaultParams returns RS(255, 223) over 512-dimensional embeddings.
func DefaultParams() Params {
	return Params{
		ParitySymbols: constants.DefaultParitySymbols,
		Dimension:     constants.DefaultEmbeddingDimension,
		Model:         constants.DefaultModel,
	}
}

// Option configures optional Extractor behavior.
type Option func(*Extractor)

// WithRand replaces the random source used for seeds and secrets. The reader is serialized, so a
// reader that is not safe for concurrent use may be shared. Only tests should use this.
func WithRand(r io.Reader) Option {
	return func(e *Extractor) {
		lr := &lockedReader{r: r}
		e.randomBytes = lr.readBytes
	}
}

// Extractor runs enrollment and recovery. It holds no per-subject state and is safe for concurrent
// use.
type Extractor struct {
	params      Params
	code        *reedsolomon.Code
	quantizer   Quantizer
	randomBytes func(n int) ([]byte, error)
}

// New creates an Extractor.
func New(params Params, opts ...Option) (*Extractor, error) {
	if params.Dimension < 0 {
		return nil, fmt.Errorf("%w: negative embedding dimension %d", ErrInvalidInput, params.Dimension)
	}
	code, err := reedsolomon.New(params.ParitySymbols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	e := &Extractor{
		params:      params,
		code:        code,
		quantizer:   Quantizer{Dimension: params.Dimension},
		randomBytes: tinkRandomBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the parameters the Extractor was created with.
func (e *Extractor) Params() Params { return e.params }

// CodeParams returns the code parameters used for new enrollments.
func (e *Extractor) CodeParams() CodeParams {
	return CodeParams{N: constants.BlockLength, NSym: e.code.ParitySymbols()}
}

// Enroll binds a fresh random secret to embedding. If seed is empty a fresh projection seed is
// generated. The secret is returned so the caller can use it immediately; it is not part of the
// record and the Extractor keeps no copy.
func (e *Extractor) Enroll(embedding Embedding, seed ProjectionSeed) (*HelperRecord, Secret, error) {
	if len(seed) == 0 {
		var err error
		if seed, err = e.randomBytes(constants.ProjectionSeedBytes); err != nil {
			return nil, nil, fmt.Errorf("failed to generate projection seed: %w", err)
		}
	}

	cp := e.CodeParams()
	qv, err := e.quantizer.Quantize(embedding, seed, 8*cp.N)
	if err != nil {
		return nil, nil, err
	}

	secret, err := e.randomBytes(cp.K())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	cw, err := e.code.Encode(secret)
	if err != nil {
		clear(secret)
		return nil, nil, fmt.Errorf("failed to encode secret: %w", err)
	}

	commitment := make([]byte, cp.N)
	subtle.XORBytes(commitment, cw, qv)
	clear(cw)

	record := &HelperRecord{
		version:      constants.HelperVersion,
		code:         cp,
		model:        e.params.Model,
		seed:         append([]byte(nil), seed...),
		commitment:   commitment,
		secretDigest: HashSecret(secret),
	}
	return record, Secret(secret), nil
}

// Recover reconstructs the secret bound to record from a fresh embedding of the same subject.
//
// Readings that are too far from the enrollment reading fail with a *RecoveryError. The record is
// only read.
func (e *Extractor) Recover(embedding Embedding, record *HelperRecord) (Secret, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil helper record", ErrInvalidInput)
	}
	if err := record.validate(); err != nil {
		return nil, err
	}

	code, err := e.codeFor(record.code)
	if err != nil {
		return nil, err
	}

	qv, err := e.quantizer.Quantize(embedding, record.seed, 8*record.code.N)
	if err != nil {
		return nil, err
	}
	defer clear(qv)

	return recoverQuantized(code, qv, record)
}

func (e *Extractor) codeFor(cp CodeParams) (*reedsolomon.Code, error) {
	if cp.NSym == e.code.ParitySymbols() {
		return e.code, nil
	}
	code, err := reedsolomon.New(cp.NSym)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, err)
	}
	return code, nil
}

// recoverQuantized is recovery after quantization: unmask, decode, authenticate.
func recoverQuantized(code *reedsolomon.Code, qv []byte, record *HelperRecord) (Secret, error) {
	if len(qv) != len(record.commitment) {
		return nil, fmt.Errorf("%w: quantized embedding has length %d, expected %d", ErrInvalidInput, len(qv), len(record.commitment))
	}
	noisy := make([]byte, len(qv))
	subtle.XORBytes(noisy, record.commitment, qv)
	defer clear(noisy)

	decoded, err := code.Decode(noisy)
	if err != nil {
		if errors.Is(err, reedsolomon.ErrDecodeFailed) {
			return nil, &RecoveryError{Kind: ErrDecodeFailed, cause: err}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	candidate := Secret(append([]byte(nil), decoded.Message...))
	clear(decoded.Codeword)
	if !ValidateSecret(candidate, record.secretDigest) {
		candidate.Wipe()
		return nil, &RecoveryError{Kind: ErrBiometricMismatch, Corrected: decoded.Corrected}
	}
	return candidate, nil
}

func tinkRandomBytes(n int) ([]byte, error) {
	return random.GetRandomBytes(uint32(n)), nil
}

type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) readBytes(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := make([]byte, n)
	if _, err := io.ReadFull(l.r, b); err != nil {
		return nil, err
	}
	return b, nil
}
