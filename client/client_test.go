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

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/biokey/client/config"
	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/client/helperstore"
	"github.com/GoogleCloudPlatform/biokey/client/recognizer"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testModel = "test-model"

func mockEmbedding(seed uint64) []float64 {
	r := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	v := make([]float64, 512)
	var norm float64
	for i := range v {
		v[i] = r.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// nearby returns v moved by a small random offset, like a second photo of the same face.
func nearby(v []float64, seed uint64) []float64 {
	noise := mockEmbedding(seed)
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] + 0.005*noise[i]
	}
	return out
}

func toEmbedding(v []float64) fuzzy.Embedding {
	out := make(fuzzy.Embedding, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// fakeRecognizer returns fixed embeddings per image path.
type fakeRecognizer struct {
	model  string
	images map[string]fuzzy.Embedding

	mu    sync.Mutex
	calls int
}

func newFakeRecognizer() *fakeRecognizer {
	alice := mockEmbedding(1)
	return &fakeRecognizer{
		model: testModel,
		images: map[string]fuzzy.Embedding{
			"alice.jpg":   toEmbedding(alice),
			"alice-2.jpg": toEmbedding(nearby(alice, 2)),
			"bob.jpg":     toEmbedding(mockEmbedding(3)),
		},
	}
}

func (f *fakeRecognizer) Model() string { return f.model }

func (f *fakeRecognizer) Embed(ctx context.Context, imagePath string) (fuzzy.Embedding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb, ok := f.images[imagePath]
	if !ok {
		return nil, recognizer.ErrNoFaceDetected
	}
	return emb, nil
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestClient(t *testing.T, rec recognizer.Recognizer, opts ...Option) (*BiokeyClient, *prometheus.Registry) {
	t.Helper()
	store, err := helperstore.NewInMemoryBadgerStore()
	if err != nil {
		t.Fatalf("NewInMemoryBadgerStore() returned error: %v", err)
	}
	reg := prometheus.NewRegistry()
	c, err := New(fuzzy.DefaultParams(), rec, store, append([]Option{WithRegisterer(reg)}, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, reg
}

func TestEnrollAndRecover(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, newFakeRecognizer())

	result, err := c.Enroll(ctx, "alice", "alice.jpg")
	if err != nil {
		t.Fatalf("Enroll() returned error: %v", err)
	}
	if result.SubjectID != "alice" {
		t.Errorf("SubjectID = %q, want alice", result.SubjectID)
	}
	if got := result.Record.Model(); got != testModel {
		t.Errorf("record model = %q, want %q", got, testModel)
	}

	for _, image := range []string{"alice.jpg", "alice-2.jpg"} {
		secret, err := c.Recover(ctx, "alice", image)
		if err != nil {
			t.Fatalf("Recover(%s) returned error: %v", image, err)
		}
		if !bytes.Equal(secret, result.Secret) {
			t.Errorf("Recover(%s) returned a different secret", image)
		}
	}

	_, err = c.Recover(ctx, "alice", "bob.jpg")
	if !errors.Is(err, fuzzy.ErrRecoveryFailed) {
		t.Errorf("Recover(bob.jpg) = %v, want ErrRecoveryFailed", err)
	}

	if got := testutil.ToFloat64(c.metrics.Recoveries.WithLabelValues(resultSuccess)); got != 2 {
		t.Errorf("successful recoveries = %v, want 2", got)
	}
	rejected := testutil.ToFloat64(c.metrics.Recoveries.WithLabelValues(resultDecodeFailed)) +
		testutil.ToFloat64(c.metrics.Recoveries.WithLabelValues(resultBiometricMismatch))
	if rejected != 1 {
		t.Errorf("rejected recoveries = %v, want 1", rejected)
	}
	if got := testutil.ToFloat64(c.metrics.Enrollments.WithLabelValues(resultSuccess)); got != 1 {
		t.Errorf("successful enrollments = %v, want 1", got)
	}
}

func TestEnrollGeneratesSubjectID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, newFakeRecognizer())

	result, err := c.Enroll(ctx, "", "alice.jpg")
	if err != nil {
		t.Fatalf("Enroll() returned error: %v", err)
	}
	if _, err := uuid.Parse(result.SubjectID); err != nil {
		t.Errorf("generated subject id %q is not a UUID: %v", result.SubjectID, err)
	}
	if _, err := c.store.Get(ctx, result.SubjectID); err != nil {
		t.Errorf("record for generated subject id not stored: %v", err)
	}
}

func TestEnrollDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, newFakeRecognizer())

	first, err := c.Enroll(ctx, "alice", "alice.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Enroll(ctx, "alice", "bob.jpg"); !errors.Is(err, helperstore.ErrExists) {
		t.Fatalf("second Enroll() = %v, want ErrExists", err)
	}

	secret, err := c.Recover(ctx, "alice", "alice.jpg")
	if err != nil {
		t.Fatalf("Recover() after rejected enrollment returned error: %v", err)
	}
	if !bytes.Equal(secret, first.Secret) {
		t.Error("rejected enrollment replaced the stored record")
	}
}

func TestEnrollFailuresStoreNothing(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, newFakeRecognizer())

	if _, err := c.Enroll(ctx, "carol", "nobody.jpg"); !errors.Is(err, recognizer.ErrNoFaceDetected) {
		t.Errorf("Enroll(no face) = %v, want ErrNoFaceDetected", err)
	}
	if _, err := c.Enroll(ctx, "../carol", "alice.jpg"); !errors.Is(err, helperstore.ErrInvalidSubject) {
		t.Errorf("Enroll(bad subject) = %v, want ErrInvalidSubject", err)
	}

	subjects, err := c.store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 0 {
		t.Errorf("store holds %v after failed enrollments, want nothing", subjects)
	}
	if got := testutil.ToFloat64(c.metrics.Enrollments.WithLabelValues(resultNoFace)); got != 1 {
		t.Errorf("no_face enrollments = %v, want 1", got)
	}
}

func TestRecoverUnknownSubject(t *testing.T) {
	c, _ := newTestClient(t, newFakeRecognizer())
	if _, err := c.Recover(context.Background(), "nobody", "alice.jpg"); !errors.Is(err, helperstore.ErrNotFound) {
		t.Errorf("Recover(unknown subject) = %v, want ErrNotFound", err)
	}
}

func TestRecoverRateLimited(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecognizer()
	c, _ := newTestClient(t, rec, WithRateLimit(1, 2))
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	if _, err := c.Enroll(ctx, "alice", "alice.jpg"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Recover(ctx, "alice", "bob.jpg"); err == nil {
		t.Fatal("Recover(bob.jpg) succeeded")
	}
	if _, err := c.Recover(ctx, "alice", "alice.jpg"); err != nil {
		t.Fatalf("second Recover() returned error: %v", err)
	}

	calls := rec.callCount()
	if _, err := c.Recover(ctx, "alice", "alice.jpg"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third Recover() = %v, want ErrRateLimited", err)
	}
	if rec.callCount() != calls {
		t.Error("rate limited attempt still ran the recognizer")
	}
	if got := testutil.ToFloat64(c.metrics.Recoveries.WithLabelValues(resultRateLimited)); got != 1 {
		t.Errorf("rate limited recoveries = %v, want 1", got)
	}

	now = now.Add(61 * time.Second)
	if _, err := c.Recover(ctx, "alice", "alice.jpg"); err != nil {
		t.Errorf("Recover() after refill returned error: %v", err)
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	ctx := context.Background()
	first, _ := newTestClient(t, newFakeRecognizer(), WithRateLimit(1, 1))
	record, _, err := first.EnrollRecord(ctx, "alice.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.RecoverRecord(ctx, "helper.json", record, "alice.jpg"); err != nil {
		t.Fatalf("RecoverRecord() returned error: %v", err)
	}
	if _, err := first.RecoverRecord(ctx, "helper.json", record, "alice.jpg"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second RecoverRecord() = %v, want ErrRateLimited", err)
	}

	// A new client, as created by each run of the command line tool, starts with a full bucket.
	second, _ := newTestClient(t, newFakeRecognizer(), WithRateLimit(1, 1))
	if _, err := second.RecoverRecord(ctx, "helper.json", record, "alice.jpg"); err != nil {
		t.Errorf("RecoverRecord() on a new client returned error: %v", err)
	}
}

func TestRecoverModelMismatch(t *testing.T) {
	ctx := context.Background()
	enroller, _ := newTestClient(t, newFakeRecognizer())
	record, _, err := enroller.EnrollRecord(ctx, "alice.jpg")
	if err != nil {
		t.Fatal(err)
	}

	other := newFakeRecognizer()
	other.model = "other-model"
	c, _ := newTestClient(t, other)
	if _, err := c.RecoverRecord(ctx, "alice", record, "alice.jpg"); !errors.Is(err, ErrModelMismatch) {
		t.Errorf("RecoverRecord() with other model = %v, want ErrModelMismatch", err)
	}
}

func TestRecoverCanceled(t *testing.T) {
	c, _ := newTestClient(t, newFakeRecognizer())
	if _, err := c.Enroll(context.Background(), "alice", "alice.jpg"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Recover(ctx, "alice", "alice.jpg"); !errors.Is(err, context.Canceled) {
		t.Errorf("Recover() with canceled context = %v, want context.Canceled", err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, newFakeRecognizer())
	if _, err := c.Enroll(ctx, "alice", "alice.jpg"); err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("meet me at the usual place")

	blob, err := c.Encrypt(ctx, "alice", "alice-2.jpg", plaintext)
	if err != nil {
		t.Fatalf("Encrypt() returned error: %v", err)
	}
	got, err := c.Decrypt(ctx, "alice", "alice.jpg", blob)
	if err != nil {
		t.Fatalf("Decrypt() returned error: %v", err)
	}
	if diff := cmp.Diff(plaintext, got); diff != "" {
		t.Errorf("Decrypt(Encrypt(p)) mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.Decrypt(ctx, "alice", "bob.jpg", blob); !errors.Is(err, fuzzy.ErrRecoveryFailed) {
		t.Errorf("Decrypt() with another face = %v, want ErrRecoveryFailed", err)
	}
}

func TestClientWithoutStore(t *testing.T) {
	ctx := context.Background()
	c, err := New(fuzzy.DefaultParams(), newFakeRecognizer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Enroll(ctx, "alice", "alice.jpg"); err == nil {
		t.Error("Enroll() without a store succeeded")
	}

	record, secret, err := c.EnrollRecord(ctx, "alice.jpg")
	if err != nil {
		t.Fatalf("EnrollRecord() returned error: %v", err)
	}
	got, err := c.RecoverRecord(ctx, "helper.json", record, "alice-2.jpg")
	if err != nil {
		t.Fatalf("RecoverRecord() returned error: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Error("RecoverRecord() returned a different secret")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	if _, err := New(fuzzy.DefaultParams(), nil, nil); err == nil {
		t.Error("New() with nil recognizer succeeded")
	}
	if _, err := New(fuzzy.DefaultParams(), newFakeRecognizer(), nil, WithCompressionLevel(42)); err == nil {
		t.Error("New() with compression level 42 succeeded")
	}
	if _, err := New(fuzzy.Params{ParitySymbols: 0}, newFakeRecognizer(), nil); !errors.Is(err, fuzzy.ErrInvalidInput) {
		t.Errorf("New() with no parity = %v, want ErrInvalidInput", err)
	}

	reg := prometheus.NewRegistry()
	if _, err := New(fuzzy.DefaultParams(), newFakeRecognizer(), nil, WithRegisterer(reg)); err != nil {
		t.Fatal(err)
	}
	if _, err := New(fuzzy.DefaultParams(), newFakeRecognizer(), nil, WithRegisterer(reg)); err == nil {
		t.Error("registering metrics twice with one registry succeeded")
	}
}

func writeEmbedding(t *testing.T, path string, v []float64) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	alice := mockEmbedding(10)
	writeEmbedding(t, filepath.Join(dir, "enroll.jpg"+recognizer.SidecarSuffix), alice)
	writeEmbedding(t, filepath.Join(dir, "later.json"), nearby(alice, 11))
	if err := os.WriteFile(filepath.Join(dir, "enroll.jpg"), []byte("jpeg"), 0600); err != nil {
		t.Fatal(err)
	}

	for _, storeType := range []string{config.StoreFile, config.StoreBadger} {
		t.Run(storeType, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store = config.Store{Type: storeType, Path: filepath.Join(t.TempDir(), "helpers")}

			c, err := NewFromConfig(cfg)
			if err != nil {
				t.Fatalf("NewFromConfig() returned error: %v", err)
			}
			defer c.Close()

			result, err := c.Enroll(ctx, "alice", filepath.Join(dir, "enroll.jpg"))
			if err != nil {
				t.Fatalf("Enroll() returned error: %v", err)
			}
			secret, err := c.Recover(ctx, "alice", filepath.Join(dir, "later.json"))
			if err != nil {
				t.Fatalf("Recover() returned error: %v", err)
			}
			if !bytes.Equal(secret, result.Secret) {
				t.Error("Recover() returned a different secret")
			}
		})
	}
}

func TestNewFromConfigRejectsInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Type = "tape"
	if _, err := NewFromConfig(cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("NewFromConfig() = %v, want ErrInvalidConfig", err)
	}
}

func TestResultOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{err: nil, want: resultSuccess},
		{err: &fuzzy.RecoveryError{Kind: fuzzy.ErrDecodeFailed}, want: resultDecodeFailed},
		{err: &fuzzy.RecoveryError{Kind: fuzzy.ErrBiometricMismatch}, want: resultBiometricMismatch},
		{err: ErrRateLimited, want: resultRateLimited},
		{err: ErrModelMismatch, want: resultModelMismatch},
		{err: recognizer.ErrNoFaceDetected, want: resultNoFace},
		{err: fuzzy.ErrCorruptHelperRecord, want: resultInvalidRecord},
		{err: context.DeadlineExceeded, want: resultCanceled},
		{err: errors.New("disk on fire"), want: resultError},
	} {
		if got := resultOf(tc.err); got != tc.want {
			t.Errorf("resultOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
