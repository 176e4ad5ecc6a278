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

import "errors"

var (
	// ErrInvalidInput is returned for malformed embeddings, seeds or secrets.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedVersion is returned for helper records with an unknown version or code parameters.
	ErrUnsupportedVersion = errors.New("unsupported helper record version")
	// ErrCorruptHelperRecord is returned for helper records whose fields are inconsistent.
	ErrCorruptHelperRecord = errors.New("corrupt helper record")

	// ErrRecoveryFailed matches every rejected recovery attempt.
	ErrRecoveryFailed = errors.New("biometric recovery failed")
	// ErrDecodeFailed means the error-correcting code detected more errors than it can correct.
	ErrDecodeFailed = errors.New("codeword could not be decoded")
	// ErrBiometricMismatch means the decoded secret did not match the enrolled digest.
	ErrBiometricMismatch = errors.New("secret digest mismatch")
)

// RecoveryError is returned when a reading does not unlock a helper record. Its message does not
// say which check failed; errors.Is against ErrDecodeFailed or ErrBiometricMismatch does, for logs
// and diagnostics that stay inside the process.
type RecoveryError struct {
	// Kind is ErrDecodeFailed or ErrBiometricMismatch.
	Kind error
	// Corrected is the number of byte errors the decoder corrected before the digest check.
	Corrected int

	cause error
}

func (e *RecoveryError) Error() string {
	return ErrRecoveryFailed.Error()
}

// Unwrap lets errors.Is match both ErrRecoveryFailed and Kind.
func (e *RecoveryError) Unwrap() []error {
	errs := []error{ErrRecoveryFailed, e.Kind}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Detail describes the failure for diagnostic logging. It must not be shown to the subject.
func (e *RecoveryError) Detail() string {
	if e.cause != nil {
		return e.Kind.Error() + ": " + e.cause.Error()
	}
	return e.Kind.Error()
}
