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
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
)

const recordSuffix = ".json"

// FileStore keeps one <subject>.json file per record in a directory.
type FileStore struct {
	dir string
}

// NewFileStore opens a FileStore rooted at dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create helper directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(subject string) string {
	return filepath.Join(s.dir, subject+recordSuffix)
}

// Put writes the record for subject. The file appears complete or not at all.
func (s *FileStore) Put(ctx context.Context, subject string, record *fuzzy.HelperRecord) error {
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
	if err := writeFileAtomic(s.path(subject), data, true); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, subject)
		}
		return err
	}
	return nil
}

// Get reads the record for subject.
func (s *FileStore) Get(ctx context.Context, subject string) (*fuzzy.HelperRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(subject))
	if errors.Is(err, fs.ErrNotExist) {
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
func (s *FileStore) Delete(ctx context.Context, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	err := os.Remove(s.path(subject))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, subject)
	}
	if err != nil {
		return fmt.Errorf("failed to delete helper record for %s: %w", subject, err)
	}
	return nil
}

// List returns the subjects with a record in the directory.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list helper directory %s: %w", s.dir, err)
	}
	var subjects []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		subject, ok := strings.CutSuffix(e.Name(), recordSuffix)
		if !ok || ValidateSubject(subject) != nil {
			continue
		}
		subjects = append(subjects, subject)
	}
	slices.Sort(subjects)
	return subjects, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes data to a temporary file next to path and moves it into place. With
// exclusive set it fails with fs.ErrExist instead of replacing an existing file.
func writeFileAtomic(path string, data []byte, exclusive bool) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if exclusive {
		// A hard link never replaces its target.
		if err := os.Link(tmpName, path); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		return nil
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
