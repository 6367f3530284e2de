//go:build linux

package steptimer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pulseNice is the nice value requested for the pulse timer thread.
const pulseNice = -10

// raisePriority lowers the nice value of the calling OS thread. Linux
// applies PRIO_PROCESS to a single thread when given its TID.
func raisePriority() error {
	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, pulseNice); err != nil {
		return fmt.Errorf("setpriority tid %d: %w", tid, err)
	}
	return nil
}
