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

// Binary to check that the biokey protocol behaves as documented, optionally against a helper
// record and envelope produced by another implementation.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"flag"
	"github.com/GoogleCloudPlatform/biokey/client/envelope"
	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/client/helperstore"
	"github.com/GoogleCloudPlatform/biokey/client/recognizer"
	"github.com/GoogleCloudPlatform/biokey/constants"
	"github.com/alecthomas/colour"
)

var (
	helperFile   = flag.String("helper", "", "A helper.json file to recover from. Optional.")
	embedding    = flag.String("embedding", "", "An embedding file (or image with a sidecar embedding) matching --helper.")
	envelopeFile = flag.String("envelope", "", "A base64 envelope sealed under the secret of --helper. Optional.")
	plaintext    = flag.String("plaintext", "", "A file holding the expected plaintext of --envelope. Optional.")
)

type conformanceTest struct {
	testName string
	run      func() error
}

// readingOf returns a deterministic unit embedding.
func readingOf(seed uint64) fuzzy.Embedding {
	r := rand.New(rand.NewPCG(seed, ^seed))
	v := make([]float64, constants.DefaultEmbeddingDimension)
	var norm float64
	for i := range v {
		v[i] = r.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	out := make(fuzzy.Embedding, len(v))
	for i := range v {
		out[i] = float32(v[i] / norm)
	}
	return out
}

// nearReadingOf moves e by a small deterministic offset.
func nearReadingOf(e fuzzy.Embedding, seed uint64) fuzzy.Embedding {
	noise := readingOf(seed)
	out := make(fuzzy.Embedding, len(e))
	for i := range e {
		out[i] = e[i] + 0.005*noise[i]
	}
	return out
}

func expectRejected(err error) error {
	if err == nil {
		return errors.New("recovery succeeded")
	}
	if !errors.Is(err, fuzzy.ErrRecoveryFailed) {
		return fmt.Errorf("unexpected error: %v", err)
	}
	if err.Error() != fuzzy.ErrRecoveryFailed.Error() {
		return fmt.Errorf("rejection reveals its cause: %q", err.Error())
	}
	return nil
}

func protocolTests(e *fuzzy.Extractor) []conformanceTest {
	subject := readingOf(1)
	record, secret, enrollErr := e.Enroll(subject, nil)

	enrolled := func() error {
		if enrollErr != nil {
			return fmt.Errorf("enrollment failed: %v", enrollErr)
		}
		return nil
	}

	return []conformanceTest{
		{
			testName: "Enrollment produces a 255 byte commitment and a SHA-256 digest",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				if got := len(record.Commitment()); got != constants.BlockLength {
					return fmt.Errorf("commitment has %d bytes", got)
				}
				if got := len(record.SecretDigest()); got != constants.SecretDigestBytes {
					return fmt.Errorf("digest has %d bytes", got)
				}
				if !fuzzy.ValidateSecret(secret, record.SecretDigest()) {
					return errors.New("digest does not match the secret")
				}
				return nil
			},
		},
		{
			testName: "Recovery from the enrollment reading returns the secret",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				got, err := e.Recover(subject, record)
				if err != nil {
					return err
				}
				if !bytes.Equal(got, secret) {
					return errors.New("recovered a different secret")
				}
				return nil
			},
		},
		{
			testName: "Recovery from a nearby reading returns the secret",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				got, err := e.Recover(nearReadingOf(subject, 2), record)
				if err != nil {
					return err
				}
				if !bytes.Equal(got, secret) {
					return errors.New("recovered a different secret")
				}
				return nil
			},
		},
		{
			testName: "Recovery from another subject is rejected",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				_, err := e.Recover(readingOf(3), record)
				return expectRejected(err)
			},
		},
		{
			testName: "Recovery against a tampered digest is rejected",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				digest := record.SecretDigest()
				digest[0] ^= 0x01
				tampered, err := fuzzy.NewHelperRecord(record.Version(), record.Code(), record.Model(), record.Seed(), record.Commitment(), digest)
				if err != nil {
					return err
				}
				_, err = e.Recover(subject, tampered)
				return expectRejected(err)
			},
		},
		{
			testName: "Helper record survives helper.json encoding",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				data, err := helperstore.Marshal(record)
				if err != nil {
					return err
				}
				decoded, err := helperstore.Unmarshal(data)
				if err != nil {
					return err
				}
				if !decoded.Equal(record) {
					return errors.New("decoded record differs")
				}
				return nil
			},
		},
		{
			testName: "Future helper versions are refused",
			run: func() error {
				_, err := helperstore.Unmarshal([]byte(`{"version": 2, "proj_seed_b64": "AA==", "W_b64": "", "hR": ""}`))
				if !errors.Is(err, fuzzy.ErrUnsupportedVersion) {
					return fmt.Errorf("got %v", err)
				}
				return nil
			},
		},
		{
			testName: "Envelope opens only under the enrolled secret",
			run: func() error {
				if err := enrolled(); err != nil {
					return err
				}
				blob, err := envelope.Seal(secret, []byte("conformance"))
				if err != nil {
					return err
				}
				if _, err := envelope.Open(secret, blob); err != nil {
					return err
				}
				other := bytes.Clone(secret)
				other[0] ^= 0x01
				if _, err := envelope.Open(other, blob); !errors.Is(err, envelope.ErrAuthFailed) {
					return fmt.Errorf("open under another secret: %v", err)
				}
				blob[0] = 0x02
				if _, err := envelope.Open(secret, blob); !errors.Is(err, envelope.ErrUnsupportedEnvelope) {
					return fmt.Errorf("open of version 2 envelope: %v", err)
				}
				return nil
			},
		},
	}
}

// interopTests recover from records and envelopes supplied on the command line.
func interopTests(e *fuzzy.Extractor) []conformanceTest {
	if *helperFile == "" || *embedding == "" {
		return nil
	}
	var recovered fuzzy.Secret
	tests := []conformanceTest{
		{
			testName: fmt.Sprintf("Recovery from %s", *helperFile),
			run: func() error {
				record, err := helperstore.LoadFile(*helperFile)
				if err != nil {
					return err
				}
				rec := &recognizer.FileRecognizer{ModelName: record.Model()}
				emb, err := rec.Embed(context.Background(), *embedding)
				if err != nil {
					return err
				}
				recovered, err = e.Recover(emb, record)
				return err
			},
		},
	}
	if *envelopeFile == "" {
		return tests
	}
	return append(tests, conformanceTest{
		testName: fmt.Sprintf("Opening %s", *envelopeFile),
		run: func() error {
			if recovered == nil {
				return errors.New("no recovered secret")
			}
			text, err := os.ReadFile(*envelopeFile)
			if err != nil {
				return err
			}
			blob, err := envelope.DecodeText(string(text))
			if err != nil {
				return err
			}
			got, err := envelope.Open(recovered, blob)
			if err != nil {
				return err
			}
			if *plaintext == "" {
				return nil
			}
			want, err := os.ReadFile(*plaintext)
			if err != nil {
				return err
			}
			if !bytes.Equal(got, want) {
				return errors.New("plaintext differs from the expected file")
			}
			return nil
		},
	})
}

func main() {
	flag.Parse()

	e, err := fuzzy.New(fuzzy.Params{ParitySymbols: constants.DefaultParitySymbols, Model: constants.DefaultModel})
	if err != nil {
		colour.Printf("^1Failed to create extractor: %v^R\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, group := range []struct {
		name  string
		tests []conformanceTest
	}{
		{name: "protocol", tests: protocolTests(e)},
		{name: "interoperability", tests: interopTests(e)},
	} {
		if len(group.tests) == 0 {
			continue
		}
		fmt.Printf("Running %s tests...\n", group.name)
		for _, testCase := range group.tests {
			if err := testCase.run(); err != nil {
				failed++
				colour.Printf("^1 - %v: %v^R\n", testCase.testName, err)
			} else {
				colour.Printf("^2 - %v^R\n", testCase.testName)
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
