// Package lock implements an advisory single-instance guard: a process
// that renews certificates on a schedule must never run two copies
// against the same keystore concurrently, since two issuance attempts
// racing for the same friendly name could each decide "reissue" and
// clobber each other's CSR.
package lock

import (
	"os"
	"strconv"

	"github.com/acmevault/acmevault/acmeerr"
)

// Guard holds (or, once Released, held) an advisory lockfile at Path.
type Guard struct {
	Path    string
	Enabled bool

	acquired bool
}

// Acquire fails LockHeld without touching Path if it already exists;
// otherwise it creates Path and writes the current process identifier
// as decimal text. A disabled Guard (the user opted out of locking)
// always succeeds without touching the filesystem.
func (g *Guard) Acquire() error {
	if !g.Enabled {
		return nil
	}

	f, err := os.OpenFile(g.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return acmeerr.New(acmeerr.LockHeld, "lockfile %s already exists", g.Path)
		}
		return acmeerr.Wrap(acmeerr.LockUnwritable, err, "create lockfile %s", g.Path)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return acmeerr.Wrap(acmeerr.LockUnwritable, err, "write lockfile %s", g.Path)
	}

	g.acquired = true
	return nil
}

// Release deletes Path. It must run on every normal exit path and on
// fatal error, and must never run when Acquire failed with LockHeld —
// the existing lockfile belongs to whoever holds it, not to this
// process.
func (g *Guard) Release() error {
	if !g.Enabled || !g.acquired {
		return nil
	}
	if err := os.Remove(g.Path); err != nil && !os.IsNotExist(err) {
		return acmeerr.Wrap(acmeerr.LockUnwritable, err, "remove lockfile %s", g.Path)
	}
	g.acquired = false
	return nil
}
