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

// Package constants contains constants shared by the biokey packages and binaries.
package constants

// HelperVersion is the version tag written into every helper record.
const HelperVersion = 1

// BlockLength is the Reed-Solomon codeword length in bytes. The quantized embedding has the same
// length, so 8*BlockLength random hyperplanes are drawn per reading.
const BlockLength = 255

// DefaultParitySymbols is the default number of Reed-Solomon parity bytes. The code corrects up to
// half as many byte errors between the enrollment and recovery readings.
const DefaultParitySymbols = 32

// ProjectionSeedBytes is the length of a freshly generated projection seed.
const ProjectionSeedBytes = 16

// SecretDigestBytes is the length of the SHA-256 digest stored in helper records.
const SecretDigestBytes = 32

// DefaultEmbeddingDimension is the dimension of ArcFace style face embeddings.
const DefaultEmbeddingDimension = 512

// DefaultModel is the recognition model name recorded in helper records when none is configured.
const DefaultModel = "buffalo_l"

// DefaultConfigName is the default name of the biokey configuration file.
const DefaultConfigName = "biokey.yaml"

// EnvelopeVersion is the leading byte of every sealed envelope.
const EnvelopeVersion = 0x01
