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

package helperstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
)

var (
	// ErrNotFound is returned when no record exists for a subject.
	ErrNotFound = errors.New("helper record not found")
	// ErrExists is returned when a record already exists for a subject. Records are never overwritten.
	ErrExists = errors.New("helper record already exists")
	// ErrInvalidSubject is returned for subject ids that cannot be used as keys.
	ErrInvalidSubject = errors.New("invalid subject id")
)

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,127}$`)

// Store persists helper records keyed by subject id. Implementations are safe for concurrent use.
type Store interface {
	// Put stores a new record. It fails with ErrExists if the subject already has one.
	Put(ctx context.Context, subject string, record *fuzzy.HelperRecord) error
	// Get returns the record of a subject, or ErrNotFound.
	Get(ctx context.Context, subject string) (*fuzzy.HelperRecord, error)
	// Delete removes the record of a subject, or returns ErrNotFound.
	Delete(ctx context.Context, subject string) error
	// List returns all subject ids in lexical order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// ValidateSubject checks that a subject id is 1 to 128 characters from [A-Za-z0-9._-] and does not
// start with a dot.
func ValidateSubject(subject string) error {
	if !subjectPattern.MatchString(subject) {
		return fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	return nil
}
