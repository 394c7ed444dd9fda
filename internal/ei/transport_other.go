//go:build !linux

package ei

import (
	"errors"
	"time"
)

var start = time.Now()

func newFDTransport(fd int) (transport, error) {
	return nil, errors.New("ei: EIS sockets are only supported on linux")
}

func closeFD(fd int) {}

func monotonicMicros() uint64 {
	return uint64(time.Since(start).Microseconds())
}
