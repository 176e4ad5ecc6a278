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

// Package helperstore persists fuzzy extractor helper records.
//
// Records are stored in the helper.json format: a JSON object with base64 encoded seed and
// commitment and a hex encoded secret digest. Two stores are provided, a directory of JSON files and
// a Badger database.
package helperstore

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/constants"
)

// helperJSON is the on-disk layout of a helper record.
type helperJSON struct {
	Version    int    `json:"version"`
	Seed       string `json:"proj_seed_b64"`
	Commitment string `json:"W_b64"`
	Digest     string `json:"hR"`
	NSym       *int   `json:"rs_nsym,omitempty"`
	N          *int   `json:"rs_n,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Marshal encodes a helper record as indented JSON.
func Marshal(record *fuzzy.HelperRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil helper record", fuzzy.ErrInvalidInput)
	}
	code := record.Code()
	h := helperJSON{
		Version:    record.Version(),
		Seed:       base64.StdEncoding.EncodeToString(record.Seed()),
		Commitment: base64.StdEncoding.EncodeToString(record.Commitment()),
		Digest:     hex.EncodeToString(record.SecretDigest()),
		NSym:       &code.NSym,
		N:          &code.N,
		Model:      record.Model(),
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal helper record: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a helper record. Records written without rs_nsym, rs_n or model
// get the defaults those fields had before they were recorded.
func Unmarshal(data []byte) (*fuzzy.HelperRecord, error) {
	var h helperJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", fuzzy.ErrCorruptHelperRecord, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after helper record", fuzzy.ErrCorruptHelperRecord)
	}
	if h.Version != constants.HelperVersion {
		return nil, fmt.Errorf("%w: %d", fuzzy.ErrUnsupportedVersion, h.Version)
	}

	seed, err := base64.StdEncoding.DecodeString(h.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: proj_seed_b64: %v", fuzzy.ErrCorruptHelperRecord, err)
	}
	commitment, err := base64.StdEncoding.DecodeString(h.Commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: W_b64: %v", fuzzy.ErrCorruptHelperRecord, err)
	}
	digest, err := hex.DecodeString(h.Digest)
	if err != nil {
		return nil, fmt.Errorf("%w: hR: %v", fuzzy.ErrCorruptHelperRecord, err)
	}

	code := fuzzy.CodeParams{N: constants.BlockLength, NSym: constants.DefaultParitySymbols}
	if h.N != nil {
		code.N = *h.N
	}
	if h.NSym != nil {
		code.NSym = *h.NSym
	}
	model := h.Model
	if model == "" {
		model = constants.DefaultModel
	}

	return fuzzy.NewHelperRecord(h.Version, code, model, seed, commitment, digest)
}

// LoadFile reads a single helper record from path.
func LoadFile(path string) (*fuzzy.HelperRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read helper file %s: %w", path, err)
	}
	record, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("helper file %s: %w", path, err)
	}
	return record, nil
}

// SaveFile writes a single helper record to path, replacing any existing file atomically.
func SaveFile(path string, record *fuzzy.HelperRecord) error {
	data, err := Marshal(record)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, false)
}

// CreateFile writes a single helper record to a new file at path. It fails with ErrExists if the
// file already exists, even when another process creates it concurrently.
func CreateFile(path string, record *fuzzy.HelperRecord) error {
	data, err := Marshal(record)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, true); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return err
	}
	return nil
}
