package scheduler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// A held lock file contains "<pid> <RFC3339 start>". A released one is empty.

func writeOwner(f *os.File, now time.Time) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(fmt.Sprintf("%d %s", os.Getpid(), now.UTC().Format(time.RFC3339))), 0)
	return err
}

// LockInfo reads the holder of a lock file. ok is false when the lock is
// free or the file is unreadable.
func LockInfo(path string) (pid int, since time.Time, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, time.Time{}, false
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, time.Time{}, false
	}
	if len(fields) > 1 {
		since, _ = time.Parse(time.RFC3339, fields[1])
	}
	return pid, since, true
}

// LockOwner returns the pid holding a lock file, or 0.
func LockOwner(path string) int {
	pid, _, _ := LockInfo(path)
	return pid
}
