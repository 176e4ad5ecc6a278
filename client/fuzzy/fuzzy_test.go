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
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/GoogleCloudPlatform/biokey/constants"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func newTestExtractor(t *testing.T, params Params, opts ...Option) *Extractor {
	t.Helper()
	e, err := New(params, opts...)
	if err != nil {
		t.Fatalf("New(%+v) returned error: %v", params, err)
	}
	return e
}

// flipBytes returns a copy of b with every bit of n distinct bytes inverted.
func flipBytes(b []byte, n int) []byte {
	out := bytes.Clone(b)
	for i := 0; i < n; i++ {
		out[(i*37)%len(out)] ^= 0xFF
	}
	return out
}

func requireRejected(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("recovery succeeded, want rejection")
	}
	if !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("recovery error = %v, want ErrRecoveryFailed", err)
	}
	if !errors.Is(err, ErrDecodeFailed) && !errors.Is(err, ErrBiometricMismatch) {
		t.Fatalf("recovery error %v is neither ErrDecodeFailed nor ErrBiometricMismatch", err)
	}
	if got, want := err.Error(), "biometric recovery failed"; got != want {
		t.Errorf("recovery error text = %q, want %q", got, want)
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	for _, p := range []Params{
		{ParitySymbols: 0, Dimension: 512},
		{ParitySymbols: 255, Dimension: 512},
		{ParitySymbols: 32, Dimension: -1},
	} {
		if _, err := New(p); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("New(%+v) = %v, want ErrInvalidInput", p, err)
		}
	}
}

// Enrollment with RS(255, 223), then recovery from the same reading, from readings whose quantization
// differs in 10 bytes (accepted) and in 30 bytes (rejected).
func TestEnrollRecoverScenario(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(100, 512)
	seed := ProjectionSeed("fixed-seed-00001")

	record, secret, err := e.Enroll(emb, seed)
	if err != nil {
		t.Fatalf("Enroll() returned error: %v", err)
	}

	if got, want := record.Code(), (CodeParams{N: 255, NSym: 32}); got != want {
		t.Errorf("record.Code() = %v, want %v", got, want)
	}
	if got := len(record.Commitment()); got != 255 {
		t.Errorf("len(commitment) = %d, want 255", got)
	}
	if got := len(record.SecretDigest()); got != sha256.Size {
		t.Errorf("len(secretDigest) = %d, want %d", got, sha256.Size)
	}
	if got := len(secret); got != 223 {
		t.Errorf("len(secret) = %d, want 223", got)
	}
	if !bytes.Equal(record.Seed(), seed) {
		t.Errorf("record.Seed() = %x, want %x", record.Seed(), seed)
	}

	recovered, err := e.Recover(emb, record)
	if err != nil {
		t.Fatalf("Recover(same embedding) returned error: %v", err)
	}
	if !bytes.Equal(recovered, secret) {
		t.Fatal("Recover(same embedding) returned a different secret")
	}

	qv, err := e.quantizer.Quantize(emb, seed, 8*255)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("10 differing bytes", func(t *testing.T) {
		noisy := flipBytes(qv, 10)
		if d, _ := SymbolDistance(qv, noisy); d != 10 {
			t.Fatalf("test setup: %d differing bytes, want 10", d)
		}
		got, err := recoverQuantized(e.code, noisy, record)
		if err != nil {
			t.Fatalf("recovery returned error: %v", err)
		}
		if !bytes.Equal(got, secret) {
			t.Error("recovery returned a different secret")
		}
	})

	t.Run("30 differing bytes", func(t *testing.T) {
		noisy := flipBytes(qv, 30)
		if d, _ := SymbolDistance(qv, noisy); d != 30 {
			t.Fatalf("test setup: %d differing bytes, want 30", d)
		}
		got, err := recoverQuantized(e.code, noisy, record)
		requireRejected(t, err)
		if got != nil {
			t.Errorf("rejected recovery returned %d bytes", len(got))
		}
	})
}

func TestRecoverToleratesNearbyReading(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(200, 512)
	record, secret, err := e.Enroll(emb, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.Recover(perturb(emb, 0.005, 201), record)
	if err != nil {
		t.Fatalf("Recover(nearby embedding) returned error: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Error("Recover(nearby embedding) returned a different secret")
	}
}

func TestRecoverRejectsDifferentSubject(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	record, _, err := e.Enroll(mockEmbedding(300, 512), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Recover(mockEmbedding(301, 512), record)
	requireRejected(t, err)
}

func TestRecoverRejectsTamperedDigest(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(400, 512)
	record, _, err := e.Enroll(emb, nil)
	if err != nil {
		t.Fatal(err)
	}

	tampered, err := NewHelperRecord(record.Version(), record.Code(), record.Model(), record.Seed(), record.Commitment(), flipBytes(record.SecretDigest(), 1))
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Recover(emb, tampered)
	requireRejected(t, err)
	if !errors.Is(err, ErrBiometricMismatch) {
		t.Errorf("Recover(tampered digest) = %v, want ErrBiometricMismatch", err)
	}
	var recErr *RecoveryError
	if !errors.As(err, &recErr) {
		t.Fatalf("Recover(tampered digest) error %T is not a *RecoveryError", err)
	}
	if recErr.Detail() == err.Error() {
		t.Errorf("Detail() = %q, want it to name the failed check", recErr.Detail())
	}
}

func TestRecoverIsRepeatableAndDoesNotMutateRecord(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(500, 512)
	record, _, err := e.Enroll(emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	before := record.Clone()

	first, err := e.Recover(emb, record)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Recover(emb, record)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("two recoveries returned different secrets")
	}

	// Failed attempts must not change the record either.
	_, _ = e.Recover(mockEmbedding(501, 512), record)

	if !record.Equal(before) {
		t.Error("Recover() mutated the helper record")
	}

	c := record.Commitment()
	c[0] ^= 0xFF
	if !record.Equal(before) {
		t.Error("mutating Commitment() result changed the helper record")
	}
}

func TestHelperRecordCloneIsDeep(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	record, _, err := e.Enroll(mockEmbedding(502, 512), nil)
	if err != nil {
		t.Fatal(err)
	}

	clone := record.Clone()
	if clone == record {
		t.Fatal("Clone() returned the same pointer")
	}
	if !clone.Equal(record) {
		t.Fatal("Clone() is not equal to the original")
	}

	clone.commitment[0] ^= 0xFF
	clone.seed[0] ^= 0xFF
	clone.secretDigest[0] ^= 0xFF
	if bytes.Equal(clone.commitment, record.commitment) || bytes.Equal(clone.seed, record.seed) || bytes.Equal(clone.secretDigest, record.secretDigest) {
		t.Error("Clone() shares byte slices with the original")
	}
	if clone.Equal(record) {
		t.Error("mutated clone still equals the original")
	}
}

func TestExtractorParams(t *testing.T) {
	params := Params{ParitySymbols: 48, Dimension: 128, Model: "test-model"}
	e := newTestExtractor(t, params)
	if got := e.Params(); got != params {
		t.Errorf("Params() = %+v, want %+v", got, params)
	}
}

func TestRecoverWithRecordCodeParams(t *testing.T) {
	enroller := newTestExtractor(t, Params{ParitySymbols: 48, Dimension: 512, Model: "test-model"})
	recoverer := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(600, 512)

	record, secret, err := enroller.Enroll(emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(secret); got != 255-48 {
		t.Errorf("len(secret) = %d, want %d", got, 255-48)
	}
	if got := record.Model(); got != "test-model" {
		t.Errorf("record.Model() = %q, want test-model", got)
	}

	got, err := recoverer.Recover(emb, record)
	if err != nil {
		t.Fatalf("Recover() with nsym=48 record returned error: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Error("Recover() returned a different secret")
	}
}

func TestRecoverRejectsUnsupportedRecords(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(700, 512)

	if _, err := e.Recover(emb, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Recover(nil) = %v, want ErrInvalidInput", err)
	}
	if _, err := e.Recover(emb, &HelperRecord{}); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Recover(zero record) = %v, want ErrUnsupportedVersion", err)
	}
}

func TestNewHelperRecordValidation(t *testing.T) {
	seed := []byte("seed")
	commitment := make([]byte, 255)
	digest := make([]byte, 32)
	code := CodeParams{N: 255, NSym: 32}

	for _, tc := range []struct {
		name       string
		version    int
		code       CodeParams
		seed       []byte
		commitment []byte
		digest     []byte
		want       error
	}{
		{name: "valid", version: 1, code: code, seed: seed, commitment: commitment, digest: digest},
		{name: "future version", version: 2, code: code, seed: seed, commitment: commitment, digest: digest, want: ErrUnsupportedVersion},
		{name: "other block length", version: 1, code: CodeParams{N: 127, NSym: 32}, seed: seed, commitment: commitment[:127], digest: digest, want: ErrUnsupportedVersion},
		{name: "no parity", version: 1, code: CodeParams{N: 255, NSym: 0}, seed: seed, commitment: commitment, digest: digest, want: ErrUnsupportedVersion},
		{name: "empty seed", version: 1, code: code, seed: nil, commitment: commitment, digest: digest, want: ErrCorruptHelperRecord},
		{name: "short commitment", version: 1, code: code, seed: seed, commitment: commitment[:254], digest: digest, want: ErrCorruptHelperRecord},
		{name: "short digest", version: 1, code: code, seed: seed, commitment: commitment, digest: digest[:31], want: ErrCorruptHelperRecord},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHelperRecord(tc.version, tc.code, "m", tc.seed, tc.commitment, tc.digest)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("NewHelperRecord() returned error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("NewHelperRecord() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEnrollGeneratesFreshSeedAndSecret(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	emb := mockEmbedding(800, 512)

	r1, s1, err := e.Enroll(emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2, s2, err := e.Enroll(emb, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(r1.Seed()); got != constants.ProjectionSeedBytes {
		t.Errorf("len(seed) = %d, want %d", got, constants.ProjectionSeedBytes)
	}
	if bytes.Equal(r1.Seed(), r2.Seed()) {
		t.Error("two enrollments generated the same seed")
	}
	if bytes.Equal(s1, s2) {
		t.Error("two enrollments generated the same secret")
	}
}

func TestEnrollWithRandIsReproducible(t *testing.T) {
	emb := mockEmbedding(900, 512)
	var records []*HelperRecord
	var secrets []Secret
	for range 2 {
		e := newTestExtractor(t, DefaultParams(), WithRand(rand.NewChaCha8([32]byte{1, 2, 3})))
		r, s, err := e.Enroll(emb, nil)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, r)
		secrets = append(secrets, s)
	}

	if !records[0].Equal(records[1]) {
		t.Error("enrollments from the same random stream produced different records")
	}
	if diff := cmp.Diff(secrets[0], secrets[1]); diff != "" {
		t.Errorf("enrollments from the same random stream produced different secrets (-first +second):\n%s", diff)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestEnrollFailsWithoutRandomness(t *testing.T) {
	e := newTestExtractor(t, DefaultParams(), WithRand(failingReader{}))
	record, secret, err := e.Enroll(mockEmbedding(1000, 512), nil)
	if err == nil {
		t.Fatal("Enroll() with failing random source succeeded")
	}
	if record != nil || secret != nil {
		t.Error("failed Enroll() returned a partial result")
	}
}

func TestEnrollRejectsInvalidEmbedding(t *testing.T) {
	e := newTestExtractor(t, DefaultParams())
	if _, _, err := e.Enroll(mockEmbedding(1100, 128), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Enroll(128-dimensional embedding) = %v, want ErrInvalidInput", err)
	}
}

func TestSecretWipe(t *testing.T) {
	s := Secret{1, 2, 3}
	s.Wipe()
	if diff := cmp.Diff(Secret{0, 0, 0}, s); diff != "" {
		t.Errorf("Wipe() left data behind (-want +got):\n%s", diff)
	}
}

func TestValidateSecret(t *testing.T) {
	secret := []byte("secret")
	digest := HashSecret(secret)
	if !ValidateSecret(secret, digest) {
		t.Error("ValidateSecret(secret, HashSecret(secret)) = false, want true")
	}
	if ValidateSecret([]byte("other"), digest) {
		t.Error("ValidateSecret(other, HashSecret(secret)) = true, want false")
	}
	if ValidateSecret(secret, digest[:16]) {
		t.Error("ValidateSecret() with truncated digest = true, want false")
	}
}

func TestConcurrentEnrollAndRecover(t *testing.T) {
	e := newTestExtractor(t, Params{ParitySymbols: 32, Dimension: 32})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emb := mockEmbedding(uint64(2000+i), 32)
			record, secret, err := e.Enroll(emb, nil)
			if err != nil {
				errs <- err
				return
			}
			got, err := e.Recover(emb, record)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, secret) {
				errs <- errors.New("recovered a different secret")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRoundTripProperty(t *testing.T) {
	e := newTestExtractor(t, Params{ParitySymbols: 32, Dimension: 16})
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.SliceOfN(rapid.Float64Range(-1, 1), 16, 16).Draw(t, "embedding")
		emb := make(Embedding, len(v))
		for i, x := range v {
			emb[i] = float32(x)
		}
		seed := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "seed")

		record, secret, err := e.Enroll(emb, seed)
		if err != nil {
			t.Fatalf("Enroll() returned error: %v", err)
		}
		got, err := e.Recover(emb, record)
		if err != nil {
			t.Fatalf("Recover() returned error: %v", err)
		}
		if !bytes.Equal(got, secret) {
			t.Fatal("Recover() returned a different secret")
		}
	})
}
