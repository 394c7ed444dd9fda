//go:build linux

package ei

import (
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// maxFDsPerRead bounds the ancillary buffer. The server only ever attaches
// a keymap fd to a message.
const maxFDsPerRead = 8

// writeTimeout bounds how long a full socket buffer may stall a request.
const writeTimeout = time.Second

type fdTransport struct {
	fd  int
	oob []byte
}

func newFDTransport(fd int) (*fdTransport, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid fd %d", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}
	unix.CloseOnExec(fd)
	return &fdTransport{fd: fd, oob: make([]byte, unix.CmsgSpace(maxFDsPerRead*4))}, nil
}

func (t *fdTransport) recv(buf []byte) (int, []int, error) {
	for {
		n, oobn, _, _, err := unix.Recvmsg(t.fd, buf, t.oob, unix.MSG_CMSG_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, nil, errWouldBlock
		}
		if err != nil {
			return 0, nil, err
		}
		fds, perr := parseRights(t.oob[:oobn])
		if perr != nil {
			return n, fds, perr
		}
		if n == 0 {
			return 0, fds, io.EOF
		}
		return n, fds, nil
	}
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func (t *fdTransport) send(b []byte) error {
	for len(b) > 0 {
		n, err := unix.SendmsgN(t.fd, b, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			ok, perr := t.wait(unix.POLLOUT, writeTimeout)
			if perr != nil {
				return perr
			}
			if !ok {
				return errors.New("socket write timed out")
			}
			continue
		case err != nil:
			return err
		}
		b = b[n:]
	}
	return nil
}

func (t *fdTransport) poll(timeout time.Duration) (bool, error) {
	return t.wait(unix.POLLIN, timeout)
}

func (t *fdTransport) wait(events int16, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		// Hangup and error count as ready so the next recv reports them.
		return n > 0 && fds[0].Revents&(events|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}

func (t *fdTransport) close() error {
	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1
	return err
}

func closeFD(fd int) {
	_ = unix.Close(fd)
}

func monotonicMicros() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Now().UnixMicro())
	}
	return uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000
}
