package lockfile

import (
	"os"
)

// AcquireExclusiveNonBlocking opens (creating if absent) the lock file at
// path and attempts a non-blocking exclusive flock. On success it returns
// an unlock function the caller must defer; on failure it returns
// ErrLockBusy (matched by IsLocked) on contention, and the caller
// should treat that as "another process is already doing this work",
// per the partition/reclaim advisory-lock discipline (§4.1, §4.4).
func AcquireExclusiveNonBlocking(path string) (unlock func(), err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := FlockExclusiveNonBlock(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		FlockUnlock(f)
		f.Close()
	}, nil
}
