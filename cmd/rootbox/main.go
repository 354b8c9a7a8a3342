// Command rootbox creates ram disk backed containers from image archives and
// runs commands inside them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/criyle/go-rootbox/cmd/rootbox/config"
	"github.com/criyle/go-rootbox/container"
)

// statusError makes the command exit with StatusCode
type statusError struct {
	Status     string
	StatusCode int
}

func (e statusError) Error() string {
	return fmt.Sprintf("status: %s, code: %d", e.Status, e.StatusCode)
}

// rootOptions is shared by all sub commands, it is valid after PersistentPreRunE
type rootOptions struct {
	configPath string
	flags      config.Config
	config     config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{flags: config.Default()}

	cmd := &cobra.Command{
		Use:           "rootbox [OPTIONS] COMMAND [ARG...]",
		Short:         "Run commands in ram disk backed containers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "location of the config file")
	config.AddFlags(flags, &opts.flags)

	cmd.AddCommand(
		newRunCommand(opts),
		newInspectCommand(opts),
		newPullCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	required := cmd.Flags().Changed("config")
	c, err := config.Load(o.configPath, required)
	if err != nil {
		return err
	}
	c.Override(cmd.Flags(), &o.flags)
	o.config = c

	if err := log.SetLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if err := log.SetFormat(log.OutputFormat(c.LogFormat)); err != nil {
		return err
	}
	return nil
}

// exitCode maps the error returned by the command to the process exit status
func exitCode(err error) int {
	var sterr statusError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &sterr):
		if sterr.StatusCode == 0 {
			return 1
		}
		return sterr.StatusCode
	case errors.Is(err, container.ErrSetupFailed):
		return 2
	default:
		return 1
	}
}

func main() {
	container.Init()
	logrus.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()

	var sterr statusError
	if err != nil && (!errors.As(err, &sterr) || sterr.Status != "") {
		if sterr.Status != "" {
			fmt.Fprintln(os.Stderr, sterr.Status)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	os.Exit(exitCode(err))
}
