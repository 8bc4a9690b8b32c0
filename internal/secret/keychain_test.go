package secret

import (
	"errors"
	"strings"
	"testing"
)

type exitStatus int

func (e exitStatus) Error() string { return "exit status" }
func (e exitStatus) ExitCode() int { return int(e) }

type fakeSecurity struct {
	calls [][]string
	out   []byte
	err   error
}

func (f *fakeSecurity) run(args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	return f.out, f.err
}

func TestKeychainStore_Get(t *testing.T) {
	f := &fakeSecurity{out: []byte("s3cret\n")}
	k := &KeychainStore{run: f.run}

	got, err := k.Get("db:c1")
	if err != nil || string(got) != "s3cret" {
		t.Fatalf("expected s3cret, got %q, %v", got, err)
	}
	want := "find-generic-password -a db:c1 -s mongorunner -w"
	if strings.Join(f.calls[0], " ") != want {
		t.Fatalf("unexpected args: %v", f.calls[0])
	}
}

func TestKeychainStore_GetMissingItem(t *testing.T) {
	k := &KeychainStore{run: (&fakeSecurity{err: &toolError{err: exitStatus(44)}}).run}

	got, err := k.Get("db:c1")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for a missing item; got %q, %v", got, err)
	}
}

func TestKeychainStore_GetFailureSurfaces(t *testing.T) {
	k := &KeychainStore{run: (&fakeSecurity{err: &toolError{msg: "User interaction is not allowed.", err: exitStatus(36)}}).run}

	_, err := k.Get("db:c1")
	if err == nil {
		t.Fatal("expected an error for a locked keychain")
	}
	if !strings.Contains(err.Error(), "User interaction is not allowed.") {
		t.Fatalf("expected tool message in error, got %v", err)
	}
	var coded exitStatus
	if !errors.As(err, &coded) || coded != 36 {
		t.Fatalf("expected exit status 36 to be wrapped, got %v", err)
	}
}

func TestKeychainStore_SetUpdatesInPlace(t *testing.T) {
	f := &fakeSecurity{}
	k := &KeychainStore{run: f.run}

	if err := k.Set("db:c1", []byte("pw")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(f.calls) != 1 || f.calls[0][0] != "add-generic-password" || f.calls[0][len(f.calls[0])-1] != "-U" {
		t.Fatalf("unexpected calls: %v", f.calls)
	}

	f.err = exitStatus(1)
	if err := k.Set("db:c1", []byte("pw")); err == nil {
		t.Fatal("expected set failure to surface")
	}
}

func TestKeychainStore_Delete(t *testing.T) {
	f := &fakeSecurity{err: exitStatus(44)}
	k := &KeychainStore{run: f.run}

	if err := k.Delete("db:c1"); err != nil {
		t.Fatalf("deleting a missing item: %v", err)
	}

	f.err = exitStatus(51)
	if err := k.Delete("db:c1"); err == nil {
		t.Fatal("expected delete failure to surface")
	}
}
