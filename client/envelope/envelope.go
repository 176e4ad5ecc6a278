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

// Package envelope encrypts messages under a secret recovered by the fuzzy extractor.
//
// A sealed envelope is laid out as
//
//	version (1) | salt (16) | nonce (12) | tag (16) | ciphertext
//
// The AES-256-GCM key is derived from the secret with HKDF-SHA256 and the per-message salt. The
// plaintext is zlib compressed before encryption.
package envelope

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/GoogleCloudPlatform/biokey/constants"
	aeadsubtle "github.com/google/tink/go/aead/subtle"
	"github.com/google/tink/go/subtle"
	"github.com/google/tink/go/subtle/random"
	"github.com/klauspost/compress/zlib"
)

const (
	saltSize   = 16
	nonceSize  = aeadsubtle.AESGCMIVSize
	tagSize    = aeadsubtle.AESGCMTagSize
	keySize    = 32
	headerSize = 1 + saltSize + nonceSize + tagSize

	hkdfHash = "SHA256"

	// MaxPlaintextSize bounds the decompressed size of an opened envelope.
	MaxPlaintextSize = 64 << 20
)

var (
	// ErrUnsupportedEnvelope is returned for envelopes with an unknown version byte or a truncated
	// header.
	ErrUnsupportedEnvelope = errors.New("unsupported envelope")
	// ErrAuthFailed is returned when the envelope does not authenticate under the secret.
	ErrAuthFailed = errors.New("envelope authentication failed")
)

type options struct {
	level int
	salt  func() ([]byte, error)
}

// Option configures Seal.
type Option func(*options)

// WithCompressionLevel sets the zlib level, from zlib.HuffmanOnly to zlib.BestCompression.
func WithCompressionLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithRand draws the salt from r instead of the system CSPRNG.
func WithRand(r io.Reader) Option {
	return func(o *options) {
		o.salt = func() ([]byte, error) {
			salt := make([]byte, saltSize)
			if _, err := io.ReadFull(r, salt); err != nil {
				return nil, err
			}
			return salt, nil
		}
	}
}

// ValidCompressionLevel reports whether level is accepted by WithCompressionLevel.
func ValidCompressionLevel(level int) bool {
	return level >= zlib.HuffmanOnly && level <= zlib.BestCompression
}

func deriveCipher(secret, salt []byte) (*aeadsubtle.AESGCM, error) {
	key, err := subtle.ComputeHKDF(hkdfHash, secret, salt, nil, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive envelope key: %w", err)
	}
	defer clear(key)

	cipher, err := aeadsubtle.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("unable to create new cipher: %w", err)
	}
	return cipher, nil
}

// Seal compresses and encrypts plaintext under secret.
func Seal(secret, plaintext []byte, opts ...Option) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	o := options{
		level: zlib.DefaultCompression,
		salt:  func() ([]byte, error) { return random.GetRandomBytes(saltSize), nil },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !ValidCompressionLevel(o.level) {
		return nil, fmt.Errorf("invalid compression level %d", o.level)
	}

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, o.level)
	if err != nil {
		return nil, fmt.Errorf("unable to create compressor: %w", err)
	}
	if _, err := zw.Write(plaintext); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}

	salt, err := o.salt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	cipher, err := deriveCipher(secret, salt)
	if err != nil {
		return nil, err
	}
	// Tink lays out nonce | ciphertext | tag; the envelope puts the tag before the ciphertext.
	sealed, err := cipher.Encrypt(compressed.Bytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	nonce := sealed[:nonceSize]
	ct := sealed[nonceSize : len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, headerSize+len(ct))
	blob = append(blob, constants.EnvelopeVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return blob, nil
}

// Open authenticates, decrypts and decompresses an envelope produced by Seal.
func Open(secret, blob []byte) ([]byte, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrUnsupportedEnvelope, len(blob))
	}
	if blob[0] != constants.EnvelopeVersion {
		return nil, fmt.Errorf("%w: version %#x", ErrUnsupportedEnvelope, blob[0])
	}
	salt := blob[1 : 1+saltSize]
	nonce := blob[1+saltSize : 1+saltSize+nonceSize]
	tag := blob[1+saltSize+nonceSize : headerSize]
	ct := blob[headerSize:]

	cipher, err := deriveCipher(secret, salt)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, nonceSize+len(ct)+tagSize)
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	compressed, err := cipher.Decrypt(sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	defer zr.Close()
	plaintext, err := io.ReadAll(io.LimitReader(zr, MaxPlaintextSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, fmt.Errorf("plaintext exceeds %d bytes", MaxPlaintextSize)
	}
	return plaintext, nil
}

// EncodeText armors an envelope as standard base64.
func EncodeText(blob []byte) string {
	return base64.StdEncoding.EncodeToString(blob)
}

// DecodeText reverses EncodeText. Surrounding whitespace is ignored.
func DecodeText(text string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEnvelope, err)
	}
	return blob, nil
}
