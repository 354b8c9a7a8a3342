package unixsocket

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/skip"
)

// pair returns a connected client and server socket
func pair(tb testing.TB) (*Socket, *Socket) {
	tb.Helper()
	l, err := Listen(filepath.Join(tb.TempDir(), "pair.sock"))
	assert.NilError(tb, err)
	defer l.Close()

	accepted := make(chan *Socket, 1)
	go func() {
		s, err := l.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- s
	}()
	c, err := Dial(context.Background(), l.Addr().String())
	assert.NilError(tb, err)
	s := <-accepted
	assert.Assert(tb, s != nil)
	tb.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return c, s
}

func TestBaseline(t *testing.T) {
	a, b := pair(t)

	go a.SendMsg([]byte("message"), Msg{})

	m := make([]byte, 1024)
	n, msg, err := b.RecvMsg(m)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(m[:n]), "message"))
	assert.Check(t, msg.Cred == nil)
}

func TestSendRecvMsg_Cred(t *testing.T) {
	a, b := pair(t)
	assert.NilError(t, b.SetPassCred(1))

	self := &syscall.Ucred{Pid: int32(os.Getpid()), Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	go a.SendMsg([]byte("credtest"), Msg{Cred: self})

	buf := make([]byte, 64)
	_, m, err := b.RecvMsg(buf)
	assert.NilError(t, err)
	assert.Assert(t, m.Cred != nil)
	assert.Check(t, is.DeepEqual(*m.Cred, *self))
}

func TestSendMsg_ForgedCred(t *testing.T) {
	skip.If(t, os.Geteuid() == 0, "root may send any credential")
	a, _ := pair(t)

	err := a.SendMsg([]byte("forged"), Msg{Cred: &syscall.Ucred{Pid: int32(os.Getpid()), Uid: 0, Gid: 0}})
	assert.Check(t, is.ErrorIs(err, syscall.EPERM))
}

func TestRecvMsg_Truncated(t *testing.T) {
	a, b := pair(t)

	go a.SendMsg(make([]byte, 128), Msg{})

	_, _, err := b.RecvMsg(make([]byte, 16))
	assert.Check(t, is.ErrorIs(err, ErrTruncated))
}

func TestListenDial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	l, err := Listen(path)
	assert.NilError(t, err)

	done := make(chan error, 1)
	go func() {
		s, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		defer s.Close()
		cred, err := s.PeerCred()
		if err != nil {
			done <- err
			return
		}
		if int(cred.Pid) != os.Getpid() {
			done <- syscall.EINVAL
			return
		}
		buf := make([]byte, 64)
		n, _, err := s.RecvMsg(buf)
		if err != nil {
			done <- err
			return
		}
		done <- s.SendMsg(buf[:n], Msg{})
	}()

	c, err := Dial(context.Background(), path)
	assert.NilError(t, err)
	defer c.Close()
	assert.NilError(t, c.SendMsg([]byte("ping"), Msg{}))

	buf := make([]byte, 64)
	n, _, err := c.RecvMsg(buf)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(buf[:n]), "ping"))
	assert.NilError(t, <-done)

	assert.NilError(t, l.Close())
	_, err = os.Stat(path)
	assert.Check(t, os.IsNotExist(err))
}

func TestDial_NotExist(t *testing.T) {
	_, err := Dial(context.Background(), filepath.Join(t.TempDir(), "missing.sock"))
	assert.Check(t, is.ErrorIs(err, syscall.ENOENT))
}

func TestSetPassCred_ClosedSocket(t *testing.T) {
	a, _ := pair(t)

	a.Close()
	assert.Check(t, a.SetPassCred(1) != nil)
}
