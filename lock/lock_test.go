package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/acmevault/acmevault/acmeerr"
)

func TestAcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	g := &Guard{Path: path, Enabled: true}

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire: %s", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lockfile contents = %q, want pid %d", data, os.Getpid())
	}
}

func TestAcquireFailsWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	if err := os.WriteFile(path, []byte("999999"), 0644); err != nil {
		t.Fatal(err)
	}

	g := &Guard{Path: path, Enabled: true}
	err := g.Acquire()
	if acmeerr.KindOf(err) != acmeerr.LockHeld {
		t.Errorf("err = %v, want LockHeld", err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		t.Error("lockfile should not be removed after a failed acquire")
	}
}

func TestReleaseRemovesLockfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	g := &Guard{Path: path, Enabled: true}

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire: %s", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %s", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lockfile should be removed after Release")
	}
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	g := &Guard{Path: path, Enabled: true}
	if err := g.Release(); err != nil {
		t.Errorf("Release without Acquire: %s", err)
	}
}

func TestDisabledGuardNeverTouchesFilesystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	g := &Guard{Path: path, Enabled: false}

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire: %s", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled guard should not create a lockfile")
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %s", err)
	}
}
