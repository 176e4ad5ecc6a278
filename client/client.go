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

// Package client is the client library for biokey.
//
// A BiokeyClient ties a Recognizer, a helper record Store and the fuzzy extractor together: it
// enrolls subjects from face images, recovers their secrets from fresh images, and encrypts messages
// under the recovered secrets.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoogleCloudPlatform/biokey/client/envelope"
	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/client/helperstore"
	"github.com/GoogleCloudPlatform/biokey/client/internal/ratelimit"
	"github.com/GoogleCloudPlatform/biokey/client/recognizer"
	glog "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrRateLimited is returned when a subject has exhausted its recovery attempts.
	ErrRateLimited = errors.New("too many recovery attempts")
	// ErrModelMismatch is returned when a helper record was enrolled with a different recognition
	// model than the configured one.
	ErrModelMismatch = errors.New("helper record was enrolled with a different model")
)

// EnrollResult is the outcome of a successful enrollment.
type EnrollResult struct {
	SubjectID string
	Record    *fuzzy.HelperRecord
	// Secret is the freshly bound secret. The caller should Wipe it after use.
	Secret fuzzy.Secret
}

// BiokeyClient enrolls subjects and recovers their secrets. It is safe for concurrent use.
type BiokeyClient struct {
	extractor  *fuzzy.Extractor
	recognizer recognizer.Recognizer
	store      helperstore.Store
	limiter    *ratelimit.SubjectLimiter
	metrics    *Metrics

	compressionLevel int
	extractorOpts    []fuzzy.Option
	registerer       prometheus.Registerer
	now              func() time.Time
}

// Option configures a BiokeyClient.
type Option func(*BiokeyClient)

// WithRateLimit bounds recovery attempts to perMinute per subject with the given burst. A
// non-positive perMinute disables the limit.
func WithRateLimit(perMinute float64, burst int) Option {
	return func(c *BiokeyClient) { c.limiter = ratelimit.New(perMinute, burst) }
}

// WithRegisterer registers the client metrics with reg instead of discarding them.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *BiokeyClient) { c.registerer = reg }
}

// WithCompressionLevel sets the zlib level used by Encrypt and Seal.
func WithCompressionLevel(level int) Option {
	return func(c *BiokeyClient) { c.compressionLevel = level }
}

// WithExtractorOptions passes options through to the fuzzy extractor.
func WithExtractorOptions(opts ...fuzzy.Option) Option {
	return func(c *BiokeyClient) { c.extractorOpts = append(c.extractorOpts, opts...) }
}

// New creates a client. The model recorded in new helper records is rec.Model(). The store may be
// nil for clients that only work with helper records passed in by the caller.
func New(params fuzzy.Params, rec recognizer.Recognizer, store helperstore.Store, opts ...Option) (*BiokeyClient, error) {
	if rec == nil {
		return nil, errors.New("nil Recognizer passed to New()")
	}
	c := &BiokeyClient{
		recognizer:       rec,
		store:            store,
		compressionLevel: zlib.DefaultCompression,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !envelope.ValidCompressionLevel(c.compressionLevel) {
		return nil, fmt.Errorf("invalid compression level %d", c.compressionLevel)
	}

	params.Model = rec.Model()
	extractor, err := fuzzy.New(params, c.extractorOpts...)
	if err != nil {
		return nil, fmt.Errorf("error creating extractor: %w", err)
	}
	c.extractor = extractor

	metrics, err := NewMetrics(c.registerer)
	if err != nil {
		return nil, err
	}
	c.metrics = metrics
	return c, nil
}

// Close releases the helper record store.
func (c *BiokeyClient) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *BiokeyClient) requireStore() error {
	if c.store == nil {
		return errors.New("client has no helper record store")
	}
	return nil
}

// EnrollRecord embeds the face in imagePath and binds a fresh secret to it without storing anything.
func (c *BiokeyClient) EnrollRecord(ctx context.Context, imagePath string) (*fuzzy.HelperRecord, fuzzy.Secret, error) {
	start := c.now()
	defer c.metrics.observe(opEnroll, start, c.now)

	emb, err := c.recognizer.Embed(ctx, imagePath)
	if err != nil {
		c.metrics.enrolled(err)
		return nil, nil, fmt.Errorf("failed to embed %s: %w", imagePath, err)
	}
	if err := ctx.Err(); err != nil {
		c.metrics.enrolled(err)
		return nil, nil, err
	}

	record, secret, err := c.extractor.Enroll(emb, nil)
	c.metrics.enrolled(err)
	if err != nil {
		return nil, nil, fmt.Errorf("enrollment failed: %w", err)
	}
	return record, secret, nil
}

// Enroll enrolls a new subject and stores its helper record. An empty subjectID is replaced by a
// random UUID. Nothing is stored if any step fails.
func (c *BiokeyClient) Enroll(ctx context.Context, subjectID, imagePath string) (*EnrollResult, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	if subjectID == "" {
		subjectID = uuid.NewString()
	}
	if err := helperstore.ValidateSubject(subjectID); err != nil {
		return nil, err
	}

	record, secret, err := c.EnrollRecord(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, subjectID, record); err != nil {
		secret.Wipe()
		return nil, fmt.Errorf("failed to store helper record: %w", err)
	}
	glog.Infof("Enrolled subject %s with %v", subjectID, record.Code())

	return &EnrollResult{SubjectID: subjectID, Record: record, Secret: secret}, nil
}

// RecoverRecord recovers the secret bound to record from the face in imagePath. Attempts are rate
// limited per key.
func (c *BiokeyClient) RecoverRecord(ctx context.Context, key string, record *fuzzy.HelperRecord, imagePath string) (fuzzy.Secret, error) {
	start := c.now()
	defer c.metrics.observe(opRecover, start, c.now)

	if record == nil {
		return nil, fmt.Errorf("%w: nil helper record", fuzzy.ErrInvalidInput)
	}
	if !c.limiter.Allow(key, start) {
		c.metrics.recovered(ErrRateLimited)
		glog.Warningf("Recovery for %s rejected: rate limited", key)
		return nil, ErrRateLimited
	}
	if model := c.extractor.Params().Model; record.Model() != model {
		c.metrics.recovered(ErrModelMismatch)
		return nil, fmt.Errorf("%w: record has %q, recognizer has %q", ErrModelMismatch, record.Model(), model)
	}

	emb, err := c.recognizer.Embed(ctx, imagePath)
	if err != nil {
		c.metrics.recovered(err)
		return nil, fmt.Errorf("failed to embed %s: %w", imagePath, err)
	}
	if err := ctx.Err(); err != nil {
		c.metrics.recovered(err)
		return nil, err
	}

	secret, err := c.extractor.Recover(emb, record)
	c.metrics.recovered(err)
	if err != nil {
		var recErr *fuzzy.RecoveryError
		if errors.As(err, &recErr) {
			glog.Warningf("Recovery for %s rejected", key)
			glog.V(1).Infof("Recovery for %s rejected: %s (%d symbols corrected)", key, recErr.Detail(), recErr.Corrected)
		}
		return nil, err
	}
	return secret, nil
}

// Recover loads the helper record of subjectID and recovers its secret from the face in imagePath.
func (c *BiokeyClient) Recover(ctx context.Context, subjectID, imagePath string) (fuzzy.Secret, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	record, err := c.store.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return c.RecoverRecord(ctx, subjectID, record, imagePath)
}

// Seal encrypts plaintext under a recovered secret.
func (c *BiokeyClient) Seal(secret fuzzy.Secret, plaintext []byte) ([]byte, error) {
	return envelope.Seal(secret, plaintext, envelope.WithCompressionLevel(c.compressionLevel))
}

// Open decrypts an envelope under a recovered secret.
func (c *BiokeyClient) Open(secret fuzzy.Secret, blob []byte) ([]byte, error) {
	return envelope.Open(secret, blob)
}

// Encrypt recovers the secret of subjectID from imagePath and seals plaintext under it.
func (c *BiokeyClient) Encrypt(ctx context.Context, subjectID, imagePath string, plaintext []byte) ([]byte, error) {
	secret, err := c.Recover(ctx, subjectID, imagePath)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe()

	blob, err := c.Seal(secret, plaintext)
	if err != nil {
		return nil, fmt.Errorf("error encrypting data: %w", err)
	}
	return blob, nil
}

// Decrypt recovers the secret of subjectID from imagePath and opens blob with it.
func (c *BiokeyClient) Decrypt(ctx context.Context, subjectID, imagePath string, blob []byte) ([]byte, error) {
	secret, err := c.Recover(ctx, subjectID, imagePath)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe()

	plaintext, err := c.Open(secret, blob)
	if err != nil {
		return nil, fmt.Errorf("error decrypting data: %w", err)
	}
	return plaintext, nil
}
