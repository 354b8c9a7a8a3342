package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/moby/sys/mount"
	"github.com/moby/sys/reexec"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/criyle/go-rootbox/image"
	rbmount "github.com/criyle/go-rootbox/pkg/mount"
	"github.com/criyle/go-rootbox/pkg/unixsocket"
	"github.com/criyle/go-rootbox/rootfs"
	"github.com/criyle/go-rootbox/runner"
	"github.com/criyle/go-rootbox/unpack"
)

// Provisioner allocates the ram disk that becomes the container root and
// releases it when the manager is done
type Provisioner interface {
	Provision(size runner.Size) (string, error)
	Release(mountPoint string) error
}

// Resolver turns a remote image reference into a local archive path
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Extractor unpacks an archive into dest
type Extractor interface {
	Extract(ctx context.Context, archive, dest string) error
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(ctx context.Context, archive, dest string) error

// Extract calls f
func (f ExtractorFunc) Extract(ctx context.Context, archive, dest string) error {
	return f(ctx, archive, dest)
}

// collaborators are built per setup request since paths come with the request
type collaborators struct {
	provisioner func(p *SetupParam) Provisioner
	resolver    func(p *SetupParam) Resolver
	extractor   Extractor
	setHostname func(name string) error
	// mountBinds applies extra binds under root
	mountBinds func(root string, binds []string) error
}

func defaultCollaborators() collaborators {
	return collaborators{
		provisioner: func(p *SetupParam) Provisioner {
			return &rootfs.Provisioner{BaseDir: p.StateDir}
		},
		resolver: func(p *SetupParam) Resolver {
			return &image.Resolver{CacheDir: p.CacheDir, Mirror: p.Mirror}
		},
		extractor: ExtractorFunc(unpack.Extract),
		setHostname: func(name string) error {
			return unix.Sethostname([]byte(name))
		},
		mountBinds: mountBinds,
	}
}

type managerState int

const (
	stateAwaitingSetup managerState = iota
	stateServing
	stateTerminated
)

func (s managerState) String() string {
	switch s {
	case stateAwaitingSetup:
		return "awaiting-setup"
	case stateServing:
		return "serving"
	default:
		return "terminated"
	}
}

// managerServer holds the namespaces and answers control requests, one
// connection at a time
type managerServer struct {
	listener *unixsocket.Listener
	collaborators
	timeout time.Duration

	state      managerState
	mountPoint string
	rootfs     Provisioner
}

func newManagerServer(l *unixsocket.Listener, c collaborators) *managerServer {
	return &managerServer{
		listener:      l,
		collaborators: c,
		timeout:       defaultRequestTimeout,
	}
}

// serve returns nil after terminate, ErrProtocolViolation when setup is not the
// first message and ErrProvisioning when setup failed
func (s *managerServer) serve(ctx context.Context) error {
	defer func() {
		s.state = stateTerminated
		s.listener.Close()
	}()

	if err := s.awaitSetup(ctx); err != nil {
		return err
	}
	s.state = stateServing
	log.G(ctx).WithField("mountpoint", s.mountPoint).Info("manager serving")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return fmt.Errorf("container: failed to accept: %w", err)
		}
		done := s.handle(ctx, socket{conn})
		conn.Close()
		if done {
			s.release(ctx)
			log.G(ctx).Info("manager terminated")
			return nil
		}
	}
}

func (s *managerServer) awaitSetup(ctx context.Context) error {
	conn, err := s.listener.Accept()
	if err != nil {
		return fmt.Errorf("container: failed to accept: %w", err)
	}
	c := socket{conn}
	defer c.Close()

	logger := peerLogger(ctx, c)
	c.SetReadDeadline(time.Now().Add(s.timeout))
	msg, cred, err := c.recvMessage()
	logger = senderLogger(logger, cred)
	if err != nil {
		logger.WithError(err).Error("failed to receive first message")
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if msg.Kind != KindSetup {
		logger.WithFields(log.Fields{"kind": msg.Kind, "state": s.state}).Error("first message is not setup")
		return fmt.Errorf("%w: first message is %v", ErrProtocolViolation, msg.Kind)
	}
	c.SetReadDeadline(time.Time{})

	_, err = s.provision(log.WithLogger(ctx, logger), msg.Setup)
	if err != nil {
		s.release(ctx)
		logger.WithError(err).Error("provisioning failed")
		c.SetWriteDeadline(time.Now().Add(s.timeout))
		reply := Message{Kind: KindError, Error: &ErrorReply{Reason: reasonProvisioning, Message: err.Error()}}
		if serr := c.sendMessage(reply, false); serr != nil {
			logger.WithError(serr).Warn("failed to send error reply")
		}
		return fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	c.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := c.sendMessage(Message{Kind: KindOk}, false); err != nil {
		// the creator gave up, nobody will ask for the mount point
		return fmt.Errorf("container: failed to acknowledge setup: %w", err)
	}
	return nil
}

func (s *managerServer) provision(ctx context.Context, p *SetupParam) (string, error) {
	if p == nil {
		return "", errors.New("setup: no parameter provided")
	}
	if p.Image == "" {
		return "", errors.New("setup: no image provided")
	}
	hostName := p.HostName
	if hostName == "" {
		hostName = defaultHostName
	}
	if err := s.setHostname(hostName); err != nil {
		return "", fmt.Errorf("sethostname %q: %w", hostName, err)
	}

	s.rootfs = s.provisioner(p)
	mp, err := s.rootfs.Provision(runner.Size(p.RAMDiskSize))
	if err != nil {
		s.rootfs = nil
		return "", err
	}
	s.mountPoint = mp

	archive := p.Image
	if image.IsRemote(archive) {
		if archive, err = s.resolver(p).Resolve(ctx, p.Image); err != nil {
			return "", err
		}
	}
	if err := s.extractor.Extract(ctx, archive, mp); err != nil {
		return "", err
	}
	if len(p.Binds) > 0 {
		if err := s.mountBinds(mp, p.Binds); err != nil {
			return "", err
		}
	}
	log.G(ctx).WithFields(log.Fields{
		"image":      p.Image,
		"mountpoint": mp,
	}).Info("rootfs ready")
	return mp, nil
}

// release unmounts the root, workers still running keep their view of it
func (s *managerServer) release(ctx context.Context) {
	if s.rootfs == nil || s.mountPoint == "" {
		return
	}
	if err := s.rootfs.Release(s.mountPoint); err != nil {
		log.G(ctx).WithError(err).WithField("mountpoint", s.mountPoint).Warn("failed to release rootfs")
	}
	s.rootfs = nil
}

// handle serves one connection, it returns true on terminate
func (s *managerServer) handle(ctx context.Context, c socket) bool {
	logger := peerLogger(ctx, c)
	c.SetDeadline(time.Now().Add(s.timeout))

	msg, cred, err := c.recvMessage()
	if err != nil {
		logger.WithError(err).Warn("failed to receive request")
		return false
	}
	logger = senderLogger(logger, cred).WithField("kind", msg.Kind)

	switch msg.Kind {
	case KindInfo:
		if err := c.sendMessage(Message{Kind: KindMountPoint, MountPoint: s.mountPoint}, false); err != nil {
			logger.WithError(err).Warn("failed to reply")
		}
		return false

	case KindTerminate:
		logger.Debug("terminate requested")
		return true

	default:
		logger.WithFields(log.Fields{"state": s.state, "size": len(msg.Raw)}).Warn("unexpected message ignored")
		return false
	}
}

// peerLogger logs the connecting process and enables per message credentials
func peerLogger(ctx context.Context, c socket) *log.Entry {
	logger := log.G(ctx)
	if err := c.SetPassCred(1); err != nil {
		logger = logger.WithField("passcred", err)
	}
	cred, err := c.PeerCred()
	if err != nil {
		return logger.WithError(err)
	}
	return logger.WithFields(log.Fields{
		"peer.pid": cred.Pid,
		"peer.uid": cred.Uid,
	})
}

// senderLogger adds the credential attached to the request, which belongs to
// the process that sent it rather than the one that connected
func senderLogger(logger *log.Entry, cred *syscall.Ucred) *log.Entry {
	if cred == nil {
		return logger
	}
	return logger.WithFields(log.Fields{
		"sender.pid": cred.Pid,
		"sender.uid": cred.Uid,
	})
}

func mountBinds(root string, binds []string) error {
	b := rbmount.NewBuilder()
	for _, spec := range binds {
		if err := b.WithBindSpec(spec); err != nil {
			return err
		}
	}
	for _, m := range b.Mounts {
		if err := m.MountAt(root); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	reexec.Register(managerName, managerMain)
}

// Init must be called first in main. In the manager process it runs the
// manager and never returns, otherwise it is a noop.
func Init() {
	if reexec.Init() {
		os.Exit(exitFailure)
	}
}

func managerMain() {
	os.Exit(runManager(os.Args[1:]))
}

func runManager(args []string) int {
	var stateDir string
	fs := pflag.NewFlagSet(managerName, pflag.ContinueOnError)
	fs.StringVar(&stateDir, "state-dir", "", "directory for the control socket")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", managerName, err)
		return exitFailure
	}
	if stateDir == "" {
		fmt.Fprintf(os.Stderr, "%s: --state-dir is required\n", managerName)
		return exitFailure
	}

	// the manager shares stderr with its creator
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	if lvl := os.Getenv(envLogLevel); lvl != "" {
		if err := log.SetLevel(lvl); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", managerName, err)
		}
	}
	pid := os.Getpid()
	ctx := log.WithLogger(context.Background(), log.G(context.Background()).WithField("manager", pid))

	if err := mount.MakeRPrivate("/"); err != nil {
		log.G(ctx).WithError(err).Error("failed to make / private")
		return exitFailure
	}

	path := socketPath(stateDir, pid)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.G(ctx).WithError(err).Error("failed to remove stale socket")
		return exitFailure
	}
	l, err := unixsocket.Listen(path)
	if err != nil {
		log.G(ctx).WithError(err).Error("failed to listen")
		return exitFailure
	}

	ready := os.NewFile(readyFd, "ready")
	if ready != nil {
		ready.Write([]byte{1})
		ready.Close()
	}

	err = newManagerServer(l, defaultCollaborators()).serve(ctx)
	switch {
	case err == nil:
		return exitTerminated
	case errors.Is(err, ErrProvisioning):
		return exitProvisioning
	case errors.Is(err, ErrProtocolViolation):
		return exitViolation
	default:
		log.G(ctx).WithError(err).Error("manager failed")
		return exitFailure
	}
}
