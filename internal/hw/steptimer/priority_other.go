//go:build !linux

package steptimer

import "errors"

func raisePriority() error {
	return errors.New("thread priority not supported on this platform")
}
