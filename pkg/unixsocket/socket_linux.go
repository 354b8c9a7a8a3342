// Package unixsocket provides wrapper for Linux unix socket to send and recv
// messages along with the sender's user credential.
//
// Sockets are SOCK_SEQPACKET so that every SendMsg arrives as exactly one RecvMsg.
package unixsocket

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// oob size default to page size
const oobSize = 4 << 10 // 4kb

// ErrTruncated is returned by RecvMsg when the datagram did not fit into the buffer
var ErrTruncated = errors.New("unixsocket: message truncated")

var oobPool = sync.Pool{
	New: func() any {
		return make([]byte, oobSize)
	},
}

// Socket wrappers a unix socket connection
type Socket struct {
	*net.UnixConn
}

// Msg is the oob msg with the message
type Msg struct {
	Cred *syscall.Ucred // unix credential
}

// Dial connects to the seqpacket socket bound at path
func Dial(ctx context.Context, path string) (*Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unixpacket", path)
	if err != nil {
		return nil, err
	}
	return &Socket{conn.(*net.UnixConn)}, nil
}

// Listener accepts seqpacket connections on a filesystem path
type Listener struct {
	*net.UnixListener
}

// Listen binds a seqpacket socket at path. The socket file is removed on Close.
func Listen(path string) (*Listener, error) {
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}
	l.SetUnlinkOnClose(true)
	return &Listener{l}, nil
}

// Accept waits for the next connection
func (l *Listener) Accept() (*Socket, error) {
	conn, err := l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &Socket{conn}, nil
}

// SetPassCred set sockopt for pass cred for unix socket
func (s *Socket) SetPassCred(option int) error {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := sysconn.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_PASSCRED, option)
	}); err != nil {
		return err
	}
	return serr
}

// PeerCred returns the credential of the connected peer at connect time (SO_PEERCRED)
func (s *Socket) PeerCred() (*unix.Ucred, error) {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		cred *unix.Ucred
		cerr error
	)
	if err := sysconn.Control(func(fd uintptr) {
		cred, cerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	return cred, cerr
}

// SendMsg sendmsg to unix socket and encode the credential if present. The
// kernel rejects a credential that does not belong to the sender.
func (s *Socket) SendMsg(b []byte, m Msg) error {
	var oob []byte
	if m.Cred != nil {
		oob = append(oob, syscall.UnixCredentials(m.Cred)...)
	}
	_, _, err := s.WriteMsgUnix(b, oob, nil)
	return err
}

// RecvMsg recvmsg from unix socket and parse the credential, which is only
// delivered after SetPassCred. A datagram larger than b yields ErrTruncated
// instead of a partial message.
func (s *Socket) RecvMsg(b []byte) (int, Msg, error) {
	var msg Msg
	oob := oobPool.Get().([]byte)
	defer oobPool.Put(oob)

	n, oobn, flags, _, err := s.ReadMsgUnix(b, oob)
	if err != nil {
		return 0, msg, err
	}
	// parse oob msg
	msgs, err := syscall.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, msg, err
	}
	if flags&(syscall.MSG_TRUNC|syscall.MSG_CTRUNC) != 0 {
		return 0, msg, ErrTruncated
	}
	msg, err = parseMsg(msgs)
	if err != nil {
		return 0, msg, err
	}
	return n, msg, nil
}

func parseMsg(msgs []syscall.SocketControlMessage) (Msg, error) {
	var msg Msg
	for _, m := range msgs {
		if m.Header.Level != syscall.SOL_SOCKET || m.Header.Type != syscall.SCM_CREDENTIALS {
			continue
		}
		cred, err := syscall.ParseUnixCredentials(&m)
		if err != nil {
			return msg, err
		}
		msg.Cred = cred
	}
	return msg, nil
}
