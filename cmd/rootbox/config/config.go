// Package config loads the rootbox command line configuration.
//
// Values come from a YAML file and are overridden by the flags that were set
// on the command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/criyle/go-rootbox/container"
	"github.com/criyle/go-rootbox/namespace"
	"github.com/criyle/go-rootbox/pkg/seccomp"
	"github.com/criyle/go-rootbox/runner"
)

// Config is the file format of rootbox configuration
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	StateDir string `yaml:"stateDir"`
	CacheDir string `yaml:"cacheDir"`
	Mirror   string `yaml:"mirror"`

	Size           runner.Size `yaml:"size"`
	HostName       string      `yaml:"hostName"`
	Binds          []string    `yaml:"binds"`
	Seccomp        bool        `yaml:"seccomp"`
	SeccompDeny    []string    `yaml:"seccompDeny"`
	SeccompAction  string      `yaml:"seccompAction"`
	SeccompDefault string      `yaml:"seccompDefault"`
	Namespaces     []string    `yaml:"namespaces"`
	IsolateNetwork bool        `yaml:"isolateNetwork"`

	RequestTimeout time.Duration `yaml:"requestTimeout"`
	SetupTimeout   time.Duration `yaml:"setupTimeout"`
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		StateDir:  container.DefaultStateDir(),
		CacheDir:  container.DefaultCacheDir(),
		Size:      64 << 20,
		HostName:  "rootbox",

		SeccompAction:  "errno",
		SeccompDefault: "allow",
	}
}

// DefaultPath is $XDG_CONFIG_HOME/rootbox/config.yaml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rootbox", "config.yaml")
}

// Load reads path on top of the defaults. A missing file is only an error
// when required is set.
func Load(path string, required bool) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return c, nil
		}
		return c, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return c, nil
}

// AddFlags registers the overridable fields of c on fs
func AddFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (text, json)")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "directory for control sockets and mount points")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "directory for downloaded images")
	fs.StringVar(&c.Mirror, "mirror", c.Mirror, "base URL of the image mirror")
	fs.Var(&c.Size, "size", "size of the ram disk (e.g. 64MiB, 1g)")
	fs.StringVar(&c.HostName, "hostname", c.HostName, "host name inside the container")
	fs.StringArrayVar(&c.Binds, "bind", c.Binds, "bind mount src:dst[:ro] into the container")
	fs.BoolVar(&c.Seccomp, "seccomp", c.Seccomp, "deny mount, namespace and module syscalls to commands")
	fs.StringArrayVar(&c.SeccompDeny, "seccomp-deny", c.SeccompDeny, "additional syscalls to deny with --seccomp")
	fs.StringVar(&c.SeccompAction, "seccomp-action", c.SeccompAction, "action on denied syscalls (errno, kill, log)")
	fs.StringVar(&c.SeccompDefault, "seccomp-default", c.SeccompDefault, "action on syscalls not denied (allow, log)")
	fs.StringSliceVar(&c.Namespaces, "ns", c.Namespaces, "namespaces of the manager joined by commands (user, mnt, uts, ipc, net)")
	fs.BoolVar(&c.IsolateNetwork, "network-isolation", c.IsolateNetwork, "give the container its own network namespace")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "timeout of a control request")
	fs.DurationVar(&c.SetupTimeout, "setup-timeout", c.SetupTimeout, "timeout of the setup handshake")
}

// Override copies the flags changed on fs from flags into c
func (c *Config) Override(fs *pflag.FlagSet, flags *Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			c.LogLevel = flags.LogLevel
		case "log-format":
			c.LogFormat = flags.LogFormat
		case "state-dir":
			c.StateDir = flags.StateDir
		case "cache-dir":
			c.CacheDir = flags.CacheDir
		case "mirror":
			c.Mirror = flags.Mirror
		case "size":
			c.Size = flags.Size
		case "hostname":
			c.HostName = flags.HostName
		case "bind":
			c.Binds = append(c.Binds, flags.Binds...)
		case "seccomp":
			c.Seccomp = flags.Seccomp
		case "seccomp-deny":
			c.SeccompDeny = append(c.SeccompDeny, flags.SeccompDeny...)
		case "seccomp-action":
			c.SeccompAction = flags.SeccompAction
		case "seccomp-default":
			c.SeccompDefault = flags.SeccompDefault
		case "ns":
			c.Namespaces = flags.Namespaces
		case "network-isolation":
			c.IsolateNetwork = flags.IsolateNetwork
		case "request-timeout":
			c.RequestTimeout = flags.RequestTimeout
		case "setup-timeout":
			c.SetupTimeout = flags.SetupTimeout
		}
	})
}

// Container returns the container configuration to create image
func (c *Config) Container(image string) container.Config {
	return container.Config{
		Image:          image,
		RAMDiskSize:    c.Size,
		StateDir:       c.StateDir,
		CacheDir:       c.CacheDir,
		Mirror:         c.Mirror,
		HostName:       c.HostName,
		Binds:          c.Binds,
		IsolateNetwork: c.IsolateNetwork,
		RequestTimeout: c.RequestTimeout,
		SetupTimeout:   c.SetupTimeout,
	}
}

// SeccompFilter builds the filter applied to commands, nil when seccomp is off
func (c *Config) SeccompFilter() (seccomp.Filter, error) {
	if !c.Seccomp {
		return nil, nil
	}
	b := seccomp.Builder{
		Deny: append(append([]string{}, seccomp.DefaultDeny...), c.SeccompDeny...),
	}
	var err error
	if c.SeccompAction != "" {
		if b.Action, err = seccomp.ParseAction(c.SeccompAction); err != nil {
			return nil, fmt.Errorf("config: seccompAction: %w", err)
		}
	}
	if c.SeccompDefault != "" {
		if b.Default, err = seccomp.ParseAction(c.SeccompDefault); err != nil {
			return nil, fmt.Errorf("config: seccompDefault: %w", err)
		}
	}
	return b.Build()
}

// NamespaceKinds parses the namespaces commands join, nil means all of them
func (c *Config) NamespaceKinds() ([]namespace.Kind, error) {
	kinds := make([]namespace.Kind, 0, len(c.Namespaces))
	for _, n := range c.Namespaces {
		k, err := namespace.ParseKind(n)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, nil
	}
	return kinds, nil
}
