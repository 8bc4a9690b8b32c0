package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "mongorunner"

// exitItemNotFound is what `security` exits with when no matching item exists.
const exitItemNotFound = 44

// runFunc runs the security tool with args and returns its stdout. Failures
// carry the tool's exit code through an ExitCode method, as *exec.ExitError does.
type runFunc func(args ...string) ([]byte, error)

// KeychainStore implements SecretStore using the macOS Keychain
// via the `security` CLI tool.
type KeychainStore struct {
	run runFunc
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{run: runSecurity}
}

func runSecurity(args ...string) ([]byte, error) {
	var stderr strings.Builder
	cmd := exec.Command("security", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &toolError{msg: strings.TrimSpace(stderr.String()), err: err}
	}
	return out, nil
}

// toolError keeps the tool's stderr next to the process error.
type toolError struct {
	msg string
	err error
}

func (e *toolError) Error() string {
	if e.msg == "" {
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

func (e *toolError) Unwrap() error { return e.err }

// Available reports whether the `security` tool exists on this machine.
func (k *KeychainStore) Available() bool {
	_, err := exec.LookPath("security")
	return err == nil
}

// Set stores a secret for this application, updating an existing item in place.
func (k *KeychainStore) Set(key string, value []byte) error {
	_, err := k.run("add-generic-password",
		"-a", key,
		"-s", keychainService,
		"-w", string(value),
		"-U",
	)
	if err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	return nil
}

// Get retrieves a secret. A missing item is nil, nil; a locked keychain or a
// denied access prompt is an error.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.run("find-generic-password",
		"-a", key,
		"-s", keychainService,
		"-w",
	)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get %s: %w", key, err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes a secret. Deleting a missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	_, err := k.run("delete-generic-password",
		"-a", key,
		"-s", keychainService,
	)
	if err != nil && !notFound(err) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}

func notFound(err error) bool {
	var coded interface{ ExitCode() int }
	return errors.As(err, &coded) && coded.ExitCode() == exitItemNotFound
}
