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
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/GoogleCloudPlatform/biokey/constants"
)

// CodeParams identifies the Reed-Solomon code of a helper record.
type CodeParams struct {
	// N is the codeword length in bytes.
	N int
	// NSym is the number of parity bytes.
	NSym int
}

// K returns the message length, which is also the secret length.
func (p CodeParams) K() int { return p.N - p.NSym }

// T returns the number of byte errors the code corrects.
func (p CodeParams) T() int { return p.NSym / 2 }

func (p CodeParams) String() string {
	return fmt.Sprintf("RS(%d, %d)", p.N, p.K())
}

func (p CodeParams) supported() bool {
	return p.N == constants.BlockLength && p.NSym >= 1 && p.NSym < p.N
}

// HelperRecord is the public output of enrollment. It holds no secret material: the commitment is
// the codeword of the secret masked by the quantized embedding, and the digest only verifies a
// candidate secret.
//
// A HelperRecord is immutable. Accessors return copies.
type HelperRecord struct {
	version      int
	code         CodeParams
	model        string
	seed         []byte
	commitment   []byte
	secretDigest []byte
}

// NewHelperRecord validates and copies the fields of a stored helper record.
func NewHelperRecord(version int, code CodeParams, model string, seed, commitment, secretDigest []byte) (*HelperRecord, error) {
	r := &HelperRecord{
		version:      version,
		code:         code,
		model:        model,
		seed:         bytes.Clone(seed),
		commitment:   bytes.Clone(commitment),
		secretDigest: bytes.Clone(secretDigest),
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *HelperRecord) validate() error {
	if r.version != constants.HelperVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.version)
	}
	if !r.code.supported() {
		return fmt.Errorf("%w: code parameters N=%d nsym=%d", ErrUnsupportedVersion, r.code.N, r.code.NSym)
	}
	if len(r.seed) == 0 {
		return fmt.Errorf("%w: empty projection seed", ErrCorruptHelperRecord)
	}
	if len(r.commitment) != r.code.N {
		return fmt.Errorf("%w: commitment has length %d, expected %d", ErrCorruptHelperRecord, len(r.commitment), r.code.N)
	}
	if len(r.secretDigest) != sha256.Size {
		return fmt.Errorf("%w: secret digest has length %d, expected %d", ErrCorruptHelperRecord, len(r.secretDigest), sha256.Size)
	}
	return nil
}

// Version returns the record format version.
func (r *HelperRecord) Version() int { return r.version }

// Code returns the Reed-Solomon parameters the record was enrolled with.
func (r *HelperRecord) Code() CodeParams { return r.code }

// Model returns the name of the recognition model that produced the enrollment embedding.
func (r *HelperRecord) Model() string { return r.model }

// Seed returns a copy of the projection seed.
func (r *HelperRecord) Seed() ProjectionSeed { return bytes.Clone(r.seed) }

// Commitment returns a copy of the codeword XOR quantized embedding.
func (r *HelperRecord) Commitment() []byte { return bytes.Clone(r.commitment) }

// SecretDigest returns a copy of the SHA-256 digest of the secret.
func (r *HelperRecord) SecretDigest() []byte { return bytes.Clone(r.secretDigest) }

// Clone returns a deep copy of the record.
func (r *HelperRecord) Clone() *HelperRecord {
	return &HelperRecord{
		version:      r.version,
		code:         r.code,
		model:        r.model,
		seed:         bytes.Clone(r.seed),
		commitment:   bytes.Clone(r.commitment),
		secretDigest: bytes.Clone(r.secretDigest),
	}
}

// Equal reports whether two records hold the same fields.
func (r *HelperRecord) Equal(o *HelperRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.version == o.version &&
		r.code == o.code &&
		r.model == o.model &&
		bytes.Equal(r.seed, o.seed) &&
		bytes.Equal(r.commitment, o.commitment) &&
		bytes.Equal(r.secretDigest, o.secretDigest)
}

// Secret is key material recovered from a helper record. Callers should Wipe it after use.
type Secret []byte

// Wipe overwrites the secret with zeros.
func (s Secret) Wipe() {
	clear(s)
}

// HashSecret performs a SHA-256 hash on the provided secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// ValidateSecret performs HashSecret on the provided secret, then reports whether the result is
// equal to the expected digest. The comparison runs in constant time.
func ValidateSecret(secret []byte, expectedDigest []byte) bool {
	actual := HashSecret(secret)
	return subtle.ConstantTimeCompare(actual, expectedDigest) == 1
}
