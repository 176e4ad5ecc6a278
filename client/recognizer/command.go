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

package recognizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
)

// noFaceExitCode is the exit status an embedding command uses to report that it found no face.
const noFaceExitCode = 2

// CommandRecognizer runs an external embedding program once per image. The image path is appended
// to Command and the program prints the embedding document on stdout.
type CommandRecognizer struct {
	// Command is the program and its leading arguments.
	Command []string
	// ModelName is reported by Model.
	ModelName string
	// Dimension is the expected embedding dimension. Zero accepts any.
	Dimension int
}

// Model returns the configured model name.
func (r *CommandRecognizer) Model() string { return r.ModelName }

// Embed runs the command for imagePath and normalizes its output.
func (r *CommandRecognizer) Embed(ctx context.Context, imagePath string) (fuzzy.Embedding, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("no embedding command configured")
	}

	args := append(append([]string(nil), r.Command[1:]...), imagePath)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == noFaceExitCode {
			return nil, fmt.Errorf("%s: %w", imagePath, ErrNoFaceDetected)
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrUnreadableImage, imagePath, err, strings.TrimSpace(stderr.String()))
	}

	values, err := parseEmbedding(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagePath, err)
	}
	emb, err := normalize(values, r.Dimension)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagePath, err)
	}
	return emb, nil
}
