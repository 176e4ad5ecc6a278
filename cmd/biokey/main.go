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

// This binary is the main entrypoint for the biokey command line tool.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"flag"
	"github.com/GoogleCloudPlatform/biokey/client"
	"github.com/GoogleCloudPlatform/biokey/client/config"
	"github.com/GoogleCloudPlatform/biokey/client/envelope"
	"github.com/GoogleCloudPlatform/biokey/client/fuzzy"
	"github.com/GoogleCloudPlatform/biokey/client/helperstore"
	glog "github.com/golang/glog"
	"github.com/google/subcommands"
)

// The current version, displayed via the `version` subcommand.
const biokeyVersion string = "0.1.0"

// commonFlags selects the configuration and the helper record a command works on.
type commonFlags struct {
	configFile string
	subject    string
	helperFile string
	quiet      bool
}

func (c *commonFlags) setFlags(f *flag.FlagSet) {
	configFilePath, err := config.DefaultPath()
	if err != nil {
		glog.Errorf("Failed to get config directory location: %v", err.Error())
	}
	f.StringVar(&c.configFile, "config-file", configFilePath, "Path to a biokey YAML configuration file. Optional.")
	f.StringVar(&c.subject, "subject", "", "Subject id of the helper record in the configured store.")
	f.StringVar(&c.helperFile, "helper", "", "Path to a standalone helper.json file, used instead of the store.")
	f.BoolVar(&c.quiet, "quiet", false, "Suppress informational output.")
}

// loadConfig reads the configuration file. The default file may be absent.
func (c *commonFlags) loadConfig() (*config.Config, error) {
	defaultPath, _ := config.DefaultPath()
	return config.Load(c.configFile, c.configFile == defaultPath)
}

// newClient creates a client backed by the configured store, or by no store when a helper file is
// used.
func (c *commonFlags) newClient() (*client.BiokeyClient, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if c.helperFile == "" {
		return client.NewFromConfig(cfg)
	}
	rec, err := client.NewRecognizer(cfg)
	if err != nil {
		return nil, err
	}
	params := fuzzy.Params{ParitySymbols: cfg.Code.NSym, Dimension: cfg.Quantizer.Dimension}
	return client.New(params, rec, nil,
		client.WithRateLimit(cfg.Limits.RecoveryPerMinute, cfg.Limits.RecoveryBurst),
		client.WithCompressionLevel(cfg.Envelope.CompressionLevel))
}

func (c *commonFlags) checkTarget(allowNone bool) error {
	switch {
	case c.subject != "" && c.helperFile != "":
		return errors.New("--subject and --helper are mutually exclusive")
	case c.subject == "" && c.helperFile == "" && !allowNone:
		return errors.New("one of --subject or --helper is required")
	}
	return nil
}

// recoverSecret recovers the secret of the selected helper record from imagePath.
func (c *commonFlags) recoverSecret(ctx context.Context, bc *client.BiokeyClient, imagePath string) (fuzzy.Secret, error) {
	if c.helperFile == "" {
		return bc.Recover(ctx, c.subject, imagePath)
	}
	record, err := helperstore.LoadFile(c.helperFile)
	if err != nil {
		return nil, err
	}
	return bc.RecoverRecord(ctx, c.helperFile, record, imagePath)
}

// logRecoveryError reports a failed recovery without saying which check failed.
func logRecoveryError(err error) {
	if errors.Is(err, fuzzy.ErrRecoveryFailed) {
		glog.Errorf("Recovery failed")
		return
	}
	glog.Errorf("Recovery failed: %v", err.Error())
}

func openInput(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

func writeOutput(name string, data []byte) error {
	if name == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(name, data, 0600)
}

// enrollCmd handles CLI options for the enroll command.
type enrollCmd struct {
	commonFlags
	force bool
}

func (*enrollCmd) Name() string { return "enroll" }
func (*enrollCmd) Synopsis() string {
	return "binds a new secret to the face in an image"
}
func (*enrollCmd) Usage() string {
	return `Usage: biokey enroll [--config-file=<config_file>] [--subject=<id> | --helper=<helper.json> [--force]] <image>

  Embeds the face in <image>, binds a fresh random secret to it and stores the
  resulting helper record. Without --subject a random subject id is generated.
  The secret itself is never written anywhere.

  Example:
    $ biokey enroll --subject=alice face.jpg
    $ biokey enroll --helper=helper.json face.jpg

`
}

func (e *enrollCmd) SetFlags(f *flag.FlagSet) {
	e.commonFlags.setFlags(f)
	f.BoolVar(&e.force, "force", false, "Replace an existing --helper file.")
}

func (e *enrollCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := e.checkTarget(true); err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitUsageError
	}
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected image file)")
		return subcommands.ExitUsageError
	}
	image := f.Arg(0)

	bc, err := e.newClient()
	if err != nil {
		glog.Errorf("Failed to initialize client: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer bc.Close()

	if e.helperFile != "" {
		if _, err := os.Stat(e.helperFile); err == nil && !e.force {
			glog.Errorf("Helper file %s already exists; use --force to replace it", e.helperFile)
			return subcommands.ExitFailure
		}
		record, secret, err := bc.EnrollRecord(ctx, image)
		if err != nil {
			glog.Errorf("Failed to enroll: %v", err.Error())
			return subcommands.ExitFailure
		}
		secret.Wipe()
		save := helperstore.CreateFile
		if e.force {
			save = helperstore.SaveFile
		}
		if err := save(e.helperFile, record); err != nil {
			if errors.Is(err, helperstore.ErrExists) {
				glog.Errorf("Helper file %s was created concurrently; use --force to replace it", e.helperFile)
				return subcommands.ExitFailure
			}
			glog.Errorf("Failed to save helper record: %v", err.Error())
			return subcommands.ExitFailure
		}
		if !e.quiet {
			fmt.Println("Wrote helper record to", e.helperFile)
		}
		return subcommands.ExitSuccess
	}

	result, err := bc.Enroll(ctx, e.subject, image)
	if err != nil {
		glog.Errorf("Failed to enroll: %v", err.Error())
		return subcommands.ExitFailure
	}
	result.Secret.Wipe()
	if !e.quiet {
		fmt.Println("Enrolled subject", result.SubjectID, "with", result.Record.Code())
	}
	return subcommands.ExitSuccess
}

// recoverCmd handles CLI options for the recover command.
type recoverCmd struct {
	commonFlags
}

func (*recoverCmd) Name() string { return "recover" }
func (*recoverCmd) Synopsis() string {
	return "checks that the face in an image unlocks a helper record"
}
func (*recoverCmd) Usage() string {
	return `Usage: biokey recover [--config-file=<config_file>] (--subject=<id> | --helper=<helper.json>) <image>

  Recovers the secret bound to the helper record from the face in <image> and
  reports whether recovery succeeded. The secret is not printed.

  limits.recoveryPerMinute is tracked in memory by a running client, so it does
  not limit separate invocations of this command.

`
}

func (r *recoverCmd) SetFlags(f *flag.FlagSet) { r.commonFlags.setFlags(f) }

func (r *recoverCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := r.checkTarget(false); err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitUsageError
	}
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected image file)")
		return subcommands.ExitUsageError
	}

	bc, err := r.newClient()
	if err != nil {
		glog.Errorf("Failed to initialize client: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer bc.Close()

	secret, err := r.recoverSecret(ctx, bc, f.Arg(0))
	if err != nil {
		logRecoveryError(err)
		return subcommands.ExitFailure
	}
	secret.Wipe()
	if !r.quiet {
		fmt.Println("Recovery succeeded")
	}
	return subcommands.ExitSuccess
}

// encryptCmd handles CLI options for the encryption command.
type encryptCmd struct {
	commonFlags
	binary bool
}

func (*encryptCmd) Name() string { return "encrypt" }
func (*encryptCmd) Synopsis() string {
	return "encrypts plaintext under the secret recovered from a face"
}
func (*encryptCmd) Usage() string {
	return `Usage: biokey encrypt [--config-file=<config_file>] (--subject=<id> | --helper=<helper.json>) [--binary] <image> <plaintext_file> <encrypted_file>

  Recovers the secret bound to the helper record from the face in <image> and
  encrypts <plaintext_file> under it. The output is base64 text unless --binary
  is given. Use "-" for stdin or stdout.

  Example:
    $ biokey encrypt --helper=helper.json face.jpg message.txt encrypted_message.txt

`
}

func (e *encryptCmd) SetFlags(f *flag.FlagSet) {
	e.commonFlags.setFlags(f)
	f.BoolVar(&e.binary, "binary", false, "Write the raw envelope instead of base64 text.")
}

func (e *encryptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := e.checkTarget(false); err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitUsageError
	}
	if f.NArg() < 3 {
		glog.Errorf("Not enough arguments (expected image, plaintext file and encrypted file)")
		return subcommands.ExitUsageError
	}

	in, err := openInput(f.Arg(1))
	if err != nil {
		glog.Errorf("Failed to open plaintext file: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer in.Close()
	plaintext, err := io.ReadAll(io.LimitReader(in, envelope.MaxPlaintextSize+1))
	if err != nil {
		glog.Errorf("Failed to read plaintext: %v", err.Error())
		return subcommands.ExitFailure
	}
	if len(plaintext) > envelope.MaxPlaintextSize {
		glog.Errorf("Plaintext exceeds %d bytes", envelope.MaxPlaintextSize)
		return subcommands.ExitFailure
	}

	bc, err := e.newClient()
	if err != nil {
		glog.Errorf("Failed to initialize client: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer bc.Close()

	secret, err := e.recoverSecret(ctx, bc, f.Arg(0))
	if err != nil {
		logRecoveryError(err)
		return subcommands.ExitFailure
	}
	blob, err := bc.Seal(secret, plaintext)
	secret.Wipe()
	if err != nil {
		glog.Errorf("Failed to encrypt plaintext: %v", err.Error())
		return subcommands.ExitFailure
	}

	out := blob
	if !e.binary {
		out = []byte(envelope.EncodeText(blob))
	}
	if err := writeOutput(f.Arg(2), out); err != nil {
		glog.Errorf("Failed to write encrypted data: %v", err.Error())
		return subcommands.ExitFailure
	}
	if !e.quiet && f.Arg(2) != "-" {
		fmt.Println("Wrote encrypted data to", f.Arg(2))
	}
	return subcommands.ExitSuccess
}

// decryptCmd handles CLI options for the decryption command.
type decryptCmd struct {
	commonFlags
	binary bool
}

func (*decryptCmd) Name() string { return "decrypt" }
func (*decryptCmd) Synopsis() string {
	return "decrypts an envelope with the secret recovered from a face"
}
func (*decryptCmd) Usage() string {
	return `Usage: biokey decrypt [--config-file=<config_file>] (--subject=<id> | --helper=<helper.json>) [--binary] <image> <encrypted_file> <plaintext_file>

  Recovers the secret bound to the helper record from the face in <image> and
  decrypts <encrypted_file> with it. The input is base64 text unless --binary is
  given. Use "-" for stdin or stdout.

  Example:
    $ biokey decrypt --helper=helper.json face.jpg encrypted_message.txt -

`
}

func (d *decryptCmd) SetFlags(f *flag.FlagSet) {
	d.commonFlags.setFlags(f)
	f.BoolVar(&d.binary, "binary", false, "Read a raw envelope instead of base64 text.")
}

func (d *decryptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := d.checkTarget(false); err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitUsageError
	}
	if f.NArg() < 3 {
		glog.Errorf("Not enough arguments (expected image, encrypted file and plaintext file)")
		return subcommands.ExitUsageError
	}

	in, err := openInput(f.Arg(1))
	if err != nil {
		glog.Errorf("Failed to open ciphertext file: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		glog.Errorf("Failed to read ciphertext: %v", err.Error())
		return subcommands.ExitFailure
	}
	blob := data
	if !d.binary {
		if blob, err = envelope.DecodeText(string(data)); err != nil {
			glog.Errorf("Failed to decode ciphertext: %v", err.Error())
			return subcommands.ExitFailure
		}
	}

	bc, err := d.newClient()
	if err != nil {
		glog.Errorf("Failed to initialize client: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer bc.Close()

	secret, err := d.recoverSecret(ctx, bc, f.Arg(0))
	if err != nil {
		logRecoveryError(err)
		return subcommands.ExitFailure
	}
	plaintext, err := bc.Open(secret, blob)
	secret.Wipe()
	if err != nil {
		glog.Errorf("Failed to decrypt ciphertext: %v", err.Error())
		return subcommands.ExitFailure
	}

	if err := writeOutput(f.Arg(2), plaintext); err != nil {
		glog.Errorf("Failed to write plaintext: %v", err.Error())
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// inspectCmd handles CLI options for the inspect command.
type inspectCmd struct {
	commonFlags
}

func (*inspectCmd) Name() string { return "inspect" }
func (*inspectCmd) Synopsis() string {
	return "prints the public fields of a helper record"
}
func (*inspectCmd) Usage() string {
	return `Usage: biokey inspect [--config-file=<config_file>] (--subject=<id> | --helper=<helper.json>)
       biokey inspect [--config-file=<config_file>]

  Prints the public fields of a helper record, or lists the enrolled subjects
  when no record is selected.

`
}

func (i *inspectCmd) SetFlags(f *flag.FlagSet) { i.commonFlags.setFlags(f) }

func (i *inspectCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := i.checkTarget(true); err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitUsageError
	}

	var record *fuzzy.HelperRecord
	if i.helperFile != "" {
		var err error
		if record, err = helperstore.LoadFile(i.helperFile); err != nil {
			glog.Errorf("Failed to load helper record: %v", err.Error())
			return subcommands.ExitFailure
		}
	} else {
		cfg, err := i.loadConfig()
		if err != nil {
			glog.Errorf("Failed to load configuration: %v", err.Error())
			return subcommands.ExitFailure
		}
		store, err := client.OpenStore(cfg)
		if err != nil {
			glog.Errorf("Failed to open helper store: %v", err.Error())
			return subcommands.ExitFailure
		}
		defer store.Close()

		if i.subject == "" {
			subjects, err := store.List(ctx)
			if err != nil {
				glog.Errorf("Failed to list subjects: %v", err.Error())
				return subcommands.ExitFailure
			}
			for _, s := range subjects {
				fmt.Println(s)
			}
			return subcommands.ExitSuccess
		}
		if record, err = store.Get(ctx, i.subject); err != nil {
			glog.Errorf("Failed to load helper record: %v", err.Error())
			return subcommands.ExitFailure
		}
	}

	code := record.Code()
	fmt.Printf("Version:        %d\n", record.Version())
	fmt.Printf("Code:           %v, corrects %d byte errors\n", code, code.T())
	fmt.Printf("Model:          %s\n", record.Model())
	fmt.Printf("Seed:           %d bytes\n", len(record.Seed()))
	fmt.Printf("Commitment:     %d bytes\n", len(record.Commitment()))
	fmt.Printf("Secret digest:  %s\n", hex.EncodeToString(record.SecretDigest()))
	return subcommands.ExitSuccess
}

// versionCmd handles CLI options for the version command.
type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "prints the current version" }
func (*versionCmd) Usage() string          { return "Usage: biokey version" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Printf("biokey Version %s\n", biokeyVersion)
	return subcommands.ExitSuccess
}

func main() {
	flag.Parse()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&enrollCmd{}, "")
	subcommands.Register(&recoverCmd{}, "")
	subcommands.Register(&encryptCmd{}, "")
	subcommands.Register(&decryptCmd{}, "")
	subcommands.Register(&inspectCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
