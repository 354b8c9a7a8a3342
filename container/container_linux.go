package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/moby/sys/reexec"

	"github.com/criyle/go-rootbox/image"
	"github.com/criyle/go-rootbox/runner"
)

// Config defines how a container is created
type Config struct {
	// Image is a local archive path or a remote reference (e.g. alpine:3.20)
	Image string

	// RAMDiskSize bounds the tmpfs root (default 64MiB)
	RAMDiskSize runner.Size

	// StateDir holds control sockets and mount points ($TMPDIR/rootbox-<uid>)
	StateDir string

	// CacheDir and Mirror configure remote image resolution
	CacheDir string
	Mirror   string

	HostName string

	// Binds are src:dst[:ro] bind mounts placed under the root
	Binds []string

	// IsolateNetwork gives the manager a new network namespace
	IsolateNetwork bool

	RequestTimeout time.Duration
	SetupTimeout   time.Duration

	// Stderr receives the manager log (default os.Stderr)
	Stderr io.Writer
}

func (c *Config) setDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir()
	}
	if c.HostName == "" {
		c.HostName = defaultHostName
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
}

// DefaultStateDir is $TMPDIR/rootbox-<uid>
func DefaultStateDir() string {
	return filepath.Join(os.TempDir(), "rootbox-"+strconv.Itoa(os.Getuid()))
}

// DefaultCacheDir is the user cache dir, or the state dir when there is none
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "rootbox", "images")
	}
	return filepath.Join(DefaultStateDir(), "images")
}

// Lifecycle is the state of a container as seen by its handle
type Lifecycle int32

// Lifecycle states
const (
	Created Lifecycle = iota
	AwaitingSetup
	Ready
	Running
	Terminated
)

var lifecycleNames = [...]string{"created", "awaiting-setup", "ready", "running", "terminated"}

func (l Lifecycle) String() string {
	if l >= 0 && int(l) < len(lifecycleNames) {
		return lifecycleNames[l]
	}
	return "invalid"
}

// State is the serializable view of a container, used to attach from another process
type State struct {
	Image      string `json:"image" yaml:"image"`
	Pid        int    `json:"pid" yaml:"pid"`
	Owner      Owner  `json:"owner" yaml:"owner"`
	MountPoint string `json:"mountPoint" yaml:"mountPoint"`
	StateDir   string `json:"stateDir" yaml:"stateDir"`
}

// Container is the handle of a container held by a manager process.
// It is safe to call Info, Run and Exec concurrently.
type Container struct {
	image      string
	pid        int
	owner      Owner
	mountPoint string
	stateDir   string
	timeout    time.Duration

	lifecycle atomic.Int32
	running   atomic.Int32

	// set only in the creating process
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

// Create starts a manager, provisions the root filesystem from cfg.Image and
// returns the handle once the container is ready
func Create(ctx context.Context, cfg Config) (*Container, error) {
	cfg.setDefaults()
	// the manager runs in /, a local archive is relative to the caller
	if cfg.Image != "" && !image.IsRemote(cfg.Image) {
		abs, err := filepath.Abs(cfg.Image)
		if err != nil {
			return nil, fmt.Errorf("container: image %q: %w", cfg.Image, err)
		}
		cfg.Image = abs
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("container: failed to create state dir: %w", err)
	}
	owner, err := CurrentOwner()
	if err != nil {
		return nil, err
	}
	c := &Container{
		image:    cfg.Image,
		owner:    owner,
		stateDir: cfg.StateDir,
		timeout:  cfg.RequestTimeout,
	}
	c.setLifecycle(Created)

	if err := c.startManager(ctx, &cfg); err != nil {
		return nil, err
	}
	logger := log.G(ctx).WithFields(log.Fields{"manager": c.pid, "image": cfg.Image})
	logger.Debug("manager ready")
	c.setLifecycle(AwaitingSetup)

	if err := c.setup(ctx, &cfg); err != nil {
		c.abort()
		return nil, err
	}
	mp, err := c.Info(ctx)
	if err != nil {
		c.abort()
		return nil, fmt.Errorf("container: failed to query mount point: %w", err)
	}
	c.mountPoint = mp
	c.setLifecycle(Ready)
	logger.WithField("mountpoint", mp).Info("container created")
	return c, nil
}

func (c *Container) startManager(ctx context.Context, cfg *Config) error {
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("container: failed to create ready pipe: %w", err)
	}
	defer r.Close()

	cmd := reexec.Command(managerName, "--state-dir", cfg.StateDir)
	cmd.Dir = "/"
	cmd.Env = append(os.Environ(), envLogLevel+"="+log.GetLevel().String())
	cmd.Stderr = cfg.Stderr
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = managerSysProcAttr(cfg.IsolateNetwork)

	err = cmd.Start()
	w.Close()
	if err != nil {
		return fmt.Errorf("container: failed to start manager: %w", err)
	}
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.exited = make(chan struct{})
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()

	ready := make(chan bool, 1)
	go func() {
		var b [1]byte
		n, _ := r.Read(b[:])
		ready <- n == 1
	}()
	select {
	case ok := <-ready:
		if ok {
			return nil
		}
		<-c.exited
		c.setLifecycle(Terminated)
		return fmt.Errorf("%w: manager exited before ready: %v", ErrSetupFailed, c.waitErr)

	case <-ctx.Done():
		c.abort()
		return fmt.Errorf("container: waiting for manager: %w", ctx.Err())
	}
}

// managerSysProcAttr unshares the namespaces held by the manager. The manager
// does not die with its creator so that attached handles keep working.
func managerSysProcAttr(isolateNetwork bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:    true,
		Cloneflags: syscall.CLONE_NEWNS | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC,
	}
	if isolateNetwork {
		attr.Cloneflags |= syscall.CLONE_NEWNET
	}
	if os.Geteuid() != 0 {
		attr.Cloneflags |= syscall.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Geteuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getegid(), Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	return attr
}

func (c *Container) setup(ctx context.Context, cfg *Config) error {
	param := &SetupParam{
		Image:       cfg.Image,
		RAMDiskSize: uint64(cfg.RAMDiskSize),
		StateDir:    cfg.StateDir,
		CacheDir:    cfg.CacheDir,
		Mirror:      cfg.Mirror,
		HostName:    cfg.HostName,
		Binds:       cfg.Binds,
	}
	reply, err := request(ctx, c.socketPath(), Message{Kind: KindSetup, Setup: param}, cfg.SetupTimeout, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}
	switch reply.Kind {
	case KindOk:
		return nil
	case KindError:
		if reply.Error == nil {
			reply.Error = &ErrorReply{Reason: "unspecified"}
		}
		return fmt.Errorf("%w: %w", ErrSetupFailed, reply.Error)
	default:
		return fmt.Errorf("%w: unexpected reply %v", ErrSetupFailed, reply.Kind)
	}
}

// abort kills a manager that never became ready
func (c *Container) abort() {
	if c.cmd == nil {
		return
	}
	c.cmd.Process.Kill()
	<-c.exited
	c.cleanup()
	c.setLifecycle(Terminated)
}

// cleanup removes what a dead manager leaves behind in the host mount namespace
func (c *Container) cleanup() {
	os.Remove(c.socketPath())
	if c.mountPoint != "" {
		// the tmpfs only exists in the manager mount namespace, the host sees an empty dir
		os.Remove(c.mountPoint)
	}
}

// Info asks the manager for the mount point of the container root
func (c *Container) Info(ctx context.Context) (string, error) {
	reply, err := request(ctx, c.socketPath(), Message{Kind: KindInfo}, c.timeout, true)
	if err != nil {
		return "", err
	}
	if reply.Kind != KindMountPoint {
		return "", fmt.Errorf("%w: unexpected reply %v to info", ErrProtocolViolation, reply.Kind)
	}
	return reply.MountPoint, nil
}

// Stop terminates the manager. It is a noop unless called by the process that
// created the container, and stopping a stopped container returns nil.
func (c *Container) Stop(ctx context.Context) error {
	logger := log.G(ctx).WithField("manager", c.pid)
	if !c.owner.IsCurrent() {
		logger.Debug("stop ignored: not the owner")
		return nil
	}

	_, err := request(ctx, c.socketPath(), Message{Kind: KindTerminate}, c.timeout, false)
	switch {
	case errors.Is(err, ErrManagerUnreachable):
		logger.Debug("manager already gone")
	case err != nil:
		return fmt.Errorf("container: failed to stop manager %d: %w", c.pid, err)
	}

	if c.exited != nil {
		timer := time.NewTimer(defaultStopTimeout)
		defer timer.Stop()
		select {
		case <-c.exited:
		case <-ctx.Done():
			c.cmd.Process.Kill()
			<-c.exited
		case <-timer.C:
			logger.Warn("manager did not exit, killing")
			c.cmd.Process.Kill()
			<-c.exited
		}
		c.cleanup()
	}
	if c.setLifecycle(Terminated) {
		logger.Info("container stopped")
	}
	return nil
}

// Attach creates a handle from the state of a container created by another
// process. The handle can query and run, stop is a noop for it.
func Attach(s State) *Container {
	c := &Container{
		image:      s.Image,
		pid:        s.Pid,
		owner:      s.Owner,
		mountPoint: s.MountPoint,
		stateDir:   s.StateDir,
		timeout:    defaultRequestTimeout,
	}
	if c.stateDir == "" {
		c.stateDir = DefaultStateDir()
	}
	c.setLifecycle(Ready)
	return c
}

// State returns the serializable view of c
func (c *Container) State() State {
	return State{
		Image:      c.image,
		Pid:        c.pid,
		Owner:      c.owner,
		MountPoint: c.mountPoint,
		StateDir:   c.stateDir,
	}
}

// Pid returns the manager pid
func (c *Container) Pid() int {
	return c.pid
}

// MountPoint returns the mount point recorded at creation
func (c *Container) MountPoint() string {
	return c.mountPoint
}

// Lifecycle returns the current lifecycle state
func (c *Container) Lifecycle() Lifecycle {
	l := Lifecycle(c.lifecycle.Load())
	if l == Ready && c.running.Load() > 0 {
		return Running
	}
	return l
}

// setLifecycle returns false if the state was already l
func (c *Container) setLifecycle(l Lifecycle) bool {
	return Lifecycle(c.lifecycle.Swap(int32(l))) != l
}

func (c *Container) socketPath() string {
	return socketPath(c.stateDir, c.pid)
}
