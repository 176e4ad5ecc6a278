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
	"strings"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "helper/"

// BadgerStore keeps records in a Badger database under the key helper/<subject>.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens or creates a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return OpenBadgerStore(opts)
}

// NewInMemoryBadgerStore opens a Badger database that is discarded on Close.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return OpenBadgerStore(opts)
}

// OpenBadgerStore opens a Badger database with caller supplied options.
func OpenBadgerStore(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open helper database %q: %w", opts.Dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func recordKey(subject string) []byte {
	return []byte(keyPrefix + subject)
}

// Put stores the record for subject. Existence is checked in the same transaction as the write, so
// concurrent Puts for one subject store exactly one record.
func (s *BadgerStore) Put(ctx context.Context, subject string, record *fuzzy.HelperRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	data, err := Marshal(record)
	if err != nil {
		return err
	}

	key := recordKey(subject)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrExists), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %s", ErrExists, subject)
	default:
		return fmt.Errorf("failed to store helper record for %s: %w", subject, err)
	}
}

// Get reads the record for subject.
func (s *BadgerStore) Get(ctx context.Context, subject string) (*fuzzy.HelperRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(subject))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read helper record for %s: %w", subject, err)
	}

	record, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("helper record for %s: %w", subject, err)
	}
	return record, nil
}

// Delete removes the record for subject.
func (s *BadgerStore) Delete(ctx context.Context, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	key := recordKey(subject)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, subject)
	}
	if err != nil {
		return fmt.Errorf("failed to delete helper record for %s: %w", subject, err)
	}
	return nil
}

// List returns the subjects with a record, in key order.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var subjects []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			subjects = append(subjects, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list helper records: %w", err)
	}
	return subjects, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
