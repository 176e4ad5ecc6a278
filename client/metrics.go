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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/client/recognizer"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opEnroll  = "enroll"
	opRecover = "recover"
)

// Result labels of the recovery counter.
const (
	resultSuccess           = "success"
	resultDecodeFailed      = "decode_failed"
	resultBiometricMismatch = "biometric_mismatch"
	resultRateLimited       = "rate_limited"
	resultModelMismatch     = "model_mismatch"
	resultNoFace            = "no_face"
	resultInvalidRecord     = "invalid_record"
	resultCanceled          = "canceled"
	resultError             = "error"
)

// Metrics counts enrollment and recovery outcomes.
type Metrics struct {
	Enrollments *prometheus.CounterVec
	Recoveries  *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// NewMetrics creates the client metrics and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biokey",
			Name:      "enrollments_total",
			Help:      "Enrollment attempts by result.",
		}, []string{"result"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biokey",
			Name:      "recoveries_total",
			Help:      "Recovery attempts by result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "biokey",
			Name:      "operation_duration_seconds",
			Help:      "Duration of enrollment and recovery, including embedding.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Enrollments, m.Recoveries, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, now func() time.Time) {
	m.Duration.WithLabelValues(op).Observe(now().Sub(start).Seconds())
}

func (m *Metrics) enrolled(err error) {
	m.Enrollments.WithLabelValues(resultOf(err)).Inc()
}

func (m *Metrics) recovered(err error) {
	m.Recoveries.WithLabelValues(resultOf(err)).Inc()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, fuzzy.ErrDecodeFailed):
		return resultDecodeFailed
	case errors.Is(err, fuzzy.ErrBiometricMismatch):
		return resultBiometricMismatch
	case errors.Is(err, ErrRateLimited):
		return resultRateLimited
	case errors.Is(err, ErrModelMismatch):
		return resultModelMismatch
	case errors.Is(err, recognizer.ErrNoFaceDetected):
		return resultNoFace
	case errors.Is(err, fuzzy.ErrUnsupportedVersion), errors.Is(err, fuzzy.ErrCorruptHelperRecord):
		return resultInvalidRecord
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resultCanceled
	default:
		return resultError
	}
}
