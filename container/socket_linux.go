package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/criyle/go-rootbox/pkg/unixsocket"
)

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, maxMessageSize)
	},
}

// socket wraps a seqpacket connection with one message per datagram
type socket struct {
	*unixsocket.Socket
}

// socketPath is the control socket address of the manager with pid
func socketPath(stateDir string, pid int) string {
	return filepath.Join(stateDir, "manager-"+strconv.Itoa(pid)+".sock")
}

// sendMessage sends m, requests carry the credential of the calling process
func (s socket) sendMessage(m Message, withCred bool) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	var oob unixsocket.Msg
	if withCred {
		oob.Cred = &syscall.Ucred{Pid: int32(os.Getpid()), Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	}
	if err := s.SendMsg(b, oob); err != nil {
		return fmt.Errorf("container: failed to send %v: %w", m.Kind, err)
	}
	return nil
}

// recvMessage returns io.EOF when the peer closed without sending. The sender
// credential is only present when SO_PASSCRED is set.
func (s socket) recvMessage() (Message, *syscall.Ucred, error) {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)

	n, oob, err := s.RecvMsg(buf)
	if err != nil {
		return Message{}, nil, fmt.Errorf("container: failed to receive: %w", err)
	}
	if n == 0 {
		return Message{}, nil, io.EOF
	}
	return decodeMessage(buf[:n]), oob.Cred, nil
}

// dial connects to the manager control socket
func dial(ctx context.Context, path string) (socket, error) {
	s, err := unixsocket.Dial(ctx, path)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return socket{}, fmt.Errorf("%w: %s", ErrManagerUnreachable, path)
		}
		return socket{}, fmt.Errorf("container: failed to connect %s: %w", path, err)
	}
	return socket{s}, nil
}

// request performs one exchange with the manager at path. When ctx carries no
// deadline, timeout is applied. Without reply the call waits for the manager to
// close the connection.
func request(ctx context.Context, path string, m Message, timeout time.Duration, reply bool) (Message, error) {
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s, err := dial(ctx, path)
	if err != nil {
		return Message{}, err
	}
	defer s.Close()

	if d, ok := ctx.Deadline(); ok {
		s.SetDeadline(d)
	}
	// unblock pending io on cancel
	stop := context.AfterFunc(ctx, func() {
		s.SetDeadline(time.Now())
	})
	defer stop()

	if err := s.sendMessage(m, true); err != nil {
		return Message{}, contextError(ctx, err)
	}
	resp, _, err := s.recvMessage()
	switch {
	case !reply:
		// closed by the manager, anything else is ignored
		return Message{}, nil
	case errors.Is(err, io.EOF):
		return Message{}, fmt.Errorf("container: %v: manager closed connection without reply: %w", m.Kind, io.ErrUnexpectedEOF)
	case err != nil:
		return Message{}, contextError(ctx, err)
	}
	return resp, nil
}

func contextError(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", err, cerr)
	}
	return err
}
